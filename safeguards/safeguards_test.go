package safeguards

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestTryAcquireSingleSlot(t *testing.T) {
	g := NewOperationGuard(GuardConfig{Logger: quietLogger()})

	if !g.TryAcquire("refresh") {
		t.Fatal("first TryAcquire() = false, want true")
	}
	if g.TryAcquire("refresh") {
		t.Fatal("second TryAcquire() = true while slot held")
	}
	if got := g.ActiveOperations(); got != 1 {
		t.Fatalf("ActiveOperations() = %d, want 1", got)
	}
	g.Release("refresh")
	if !g.TryAcquire("refresh") {
		t.Fatal("TryAcquire() after Release = false, want true")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	g := NewOperationGuard(GuardConfig{Logger: quietLogger()})
	g.TryAcquire("hold")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx, "wait")
	if err == nil {
		t.Fatal("Acquire() succeeded while slot held")
	}
}

func TestRecoverableOperationConvertsPanic(t *testing.T) {
	err := RecoverableOperation(quietLogger(), "boom", func() error {
		panic("kaput")
	})
	if err == nil || !strings.Contains(err.Error(), "kaput") {
		t.Fatalf("RecoverableOperation() error = %v, want panic error", err)
	}
}

func TestProtectSwallowsPanic(t *testing.T) {
	ran := false
	Protect(quietLogger(), "observer", func() {
		ran = true
		panic("observer failure")
	})
	if !ran {
		t.Fatal("Protect did not run fn")
	}
}
