package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := Conflict("transcribe", "transcript %s already exists", "a.wav.tiny.en.txt")
	wrapped := fmt.Errorf("handler: %w", base)
	if KindOf(wrapped) != KindConflict {
		t.Fatalf("expected conflict, got %s", KindOf(wrapped))
	}
	if Message(wrapped) != "transcript a.wav.tiny.en.txt already exists" {
		t.Fatalf("unexpected message: %q", Message(wrapped))
	}
}

func TestInternalUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Internal("write transcript", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if !Is(err, KindInternal) {
		t.Fatal("expected internal kind")
	}
	if err.Error() != "write transcript: disk full" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
}

func TestUnclassifiedIsInternal(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatal("expected plain errors to be internal")
	}
	if Is(nil, KindInternal) {
		t.Fatal("nil must not match any kind")
	}
}
