package remote

import (
	"errors"
	"testing"
)

func TestClaimName(t *testing.T) {
	t.Parallel()

	name := t.Name()
	if err := claimName(name); err != nil {
		t.Fatalf("claimName() error = %v", err)
	}
	if err := claimName(name); !errors.Is(err, ErrNameInUse) {
		t.Errorf("second claimName() error = %v; want ErrNameInUse", err)
	}

	releaseName(name)
	if err := claimName(name); err != nil {
		t.Errorf("claimName() after release error = %v", err)
	}
	releaseName(name)
}
