//go:build !linux

package endpoint

import (
	"errors"
	"testing"
)

func TestBindRawUnsupportedOffLinux(t *testing.T) {
	if _, err := BindRaw(0); !errors.Is(err, ErrRawUnsupported) {
		t.Fatalf("BindRaw = %v, want ErrRawUnsupported", err)
	}
}
