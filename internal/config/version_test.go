package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name       string
		version    int
		wantReason string
	}{
		{name: "current", version: CurrentVersion},
		{name: "undeclared", version: 0},
		{name: "negative", version: -1, wantReason: "invalid"},
		{name: "newer", version: CurrentVersion + 1, wantReason: "newer than this build"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *VersionError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *VersionError, got %T", err)
			}
			if ve.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", ve.Reason, tt.wantReason)
			}
		})
	}
}

func TestVersionErrorMessage(t *testing.T) {
	err := ValidateVersion(CurrentVersion + 1)
	if !strings.Contains(err.Error(), "upgrade cmdguard") {
		t.Errorf("unexpected message: %v", err)
	}

	var nilErr *VersionError
	if nilErr.Error() != "" {
		t.Error("nil VersionError should render empty")
	}
}
