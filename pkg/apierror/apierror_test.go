package apierror

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	perrors "github.com/pkg/errors"
	"gotest.tools/assert"
)

func TestKindOf(t *testing.T) {
	testCases := []struct {
		Name   string
		Err    error
		Expect Kind
	}{
		{
			Name:   "nil",
			Err:    nil,
			Expect: "",
		},
		{
			Name:   "tagged",
			Err:    Conflict("workspace %s is running", "ws1"),
			Expect: KindConflict,
		},
		{
			Name:   "tagged and wrapped",
			Err:    perrors.Wrap(NotFound("missing"), "get workspace"),
			Expect: KindNotFound,
		},
		{
			Name:   "errdefs not found",
			Err:    perrors.Wrap(errdefs.ErrNotFound, "inspect container"),
			Expect: KindNotFound,
		},
		{
			Name:   "errdefs invalid argument",
			Err:    errdefs.ErrInvalidArgument,
			Expect: KindBadRequest,
		},
		{
			Name:   "plain error",
			Err:    errors.New("connection refused"),
			Expect: KindServer,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			assert.Equal(t, KindOf(testCase.Err), testCase.Expect)
		})
	}
}

func TestErrdefsInterop(t *testing.T) {
	assert.Assert(t, errdefs.IsNotFound(NotFound("workspace %s not found", "ws1")))
	assert.Assert(t, errdefs.IsConflict(Conflict("busy")))
	assert.Assert(t, errdefs.IsInvalidArgument(BadRequest("bad")))
	assert.Assert(t, errdefs.IsInternal(Server("boom")))
	assert.Assert(t, !errdefs.IsNotFound(Conflict("busy")))
}

func TestWrapAndEnsure(t *testing.T) {
	cause := errors.New("dial unix docker.sock")
	err := Wrap(cause, KindServer, "create machine")
	assert.Equal(t, err.Error(), "create machine: dial unix docker.sock")
	assert.Assert(t, errors.Is(err, cause))
	assert.Assert(t, Wrap(nil, KindServer, "noop") == nil)

	ensured := Ensure(errdefs.ErrConflict)
	assert.Assert(t, IsConflict(ensured))

	tagged := BadRequest("bad")
	assert.Equal(t, Ensure(tagged), tagged)
}
