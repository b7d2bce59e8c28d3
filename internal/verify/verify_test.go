package verify

import (
	"context"
	"testing"
	"time"

	"github.com/UlleongUlleong/server-sub000/internal/credstore"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, maxAttempts int) (*Limiter, *Codes) {
	t.Helper()
	s, err := credstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	lim := NewLimiter(s, maxAttempts, time.Hour)
	return lim, NewCodes(s, lim, 10*time.Minute)
}

func TestLimiter_RejectsAboveMax(t *testing.T) {
	req := require.New(t)
	lim, _ := setup(t, 10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		req.NoError(lim.Bump(ctx, "a@b.c"))
	}

	// The 11th attempt within the window is rejected.
	req.ErrorIs(lim.Bump(ctx, "a@b.c"), ErrTooManyAttempts)
}

func TestLimiter_CountsPerEmail(t *testing.T) {
	req := require.New(t)
	lim, _ := setup(t, 1)
	ctx := context.Background()

	req.NoError(lim.Bump(ctx, "a@b.c"))
	req.ErrorIs(lim.Bump(ctx, "a@b.c"), ErrTooManyAttempts)

	// A different email has its own counter.
	req.NoError(lim.Bump(ctx, "x@y.z"))
}

func TestCodes_IssueAndConfirm(t *testing.T) {
	req := require.New(t)
	_, codes := setup(t, 10)
	ctx := context.Background()

	code, err := codes.Issue(ctx, "a@b.c")
	req.NoError(err)
	req.Len(code, 6)

	req.NoError(codes.Confirm(ctx, "a@b.c", code))

	// The code is consumed on success.
	req.ErrorIs(codes.Confirm(ctx, "a@b.c", code), ErrCodeMismatch)
}

func TestCodes_ConfirmWrongCode(t *testing.T) {
	req := require.New(t)
	_, codes := setup(t, 10)
	ctx := context.Background()

	_, err := codes.Issue(ctx, "a@b.c")
	req.NoError(err)

	req.ErrorIs(codes.Confirm(ctx, "a@b.c", "000000x"), ErrCodeMismatch)
}

func TestCodes_LimitAppliesEvenWithCorrectCode(t *testing.T) {
	req := require.New(t)
	_, codes := setup(t, 2)
	ctx := context.Background()

	code, err := codes.Issue(ctx, "a@b.c")
	req.NoError(err)

	req.ErrorIs(codes.Confirm(ctx, "a@b.c", "wrong1"), ErrCodeMismatch)
	req.ErrorIs(codes.Confirm(ctx, "a@b.c", "wrong2"), ErrCodeMismatch)

	// Attempts exhausted: the right code no longer gets through.
	req.ErrorIs(codes.Confirm(ctx, "a@b.c", code), ErrTooManyAttempts)
}
