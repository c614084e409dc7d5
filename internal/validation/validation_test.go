package validation

import "testing"

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid UUID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"valid UUID uppercase", "550E8400-E29B-41D4-A716-446655440000", false},
		{"empty", "", true},
		{"not a UUID", "not-a-uuid", true},
		{"path traversal attempt", "../../../etc/passwd", true},
		{"SQL injection attempt", "'; DROP TABLE sessions; --", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUUID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUUID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid UUID session", "550e8400-e29b-41d4-a716-446655440000", false},
		{"valid child session", "child_550e8400-e29b-41d4-a716-446655440000_1", false},
		{"valid nested child", "child_child_550e8400_2_3", false},
		{"empty", "", true},
		{"invalid child format", "child_", true},
		{"invalid child format two parts", "child_x", true},
		{"not a valid ID", "not-valid", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateProcessID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid UUID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"empty", "", true},
		{"invalid format", "not-a-uuid", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProcessID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProcessID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateContainerID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid short ID", "abc123def456", false},
		{"valid long ID", "abc123def456abc123def456abc123def456abc123def456abc123def456abc1", false},
		{"valid uppercase", "ABC123DEF456", false},
		{"empty", "", true},
		{"too short", "abc123", true},
		{"too long", "abc123def456abc123def456abc123def456abc123def456abc123def456abc12345", true},
		{"invalid chars", "abc123def456xyz!", true},
		{"invalid chars space", "abc123 def456", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContainerID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContainerID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
