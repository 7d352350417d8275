package fs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
)

// timeoutErr is a net.Error that reports a timeout
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKind(t *testing.T) {
	for _, test := range []struct {
		err  error
		want ErrKind
	}{
		{nil, KindSuccess},
		{ErrorObjectNotFound, KindNotFound},
		{ErrorDirNotFound, KindNotFound},
		{fmt.Errorf("stat: %w", ErrorObjectNotFound), KindNotFound},
		{ErrorObjectExists, KindAlreadyExists},
		{ErrorDirExists, KindAlreadyExists},
		{ErrorPermissionDenied, KindPermissionDenied},
		{ErrorTimeout, KindIoTimeout},
		{context.DeadlineExceeded, KindIoTimeout},
		{ErrorCancelled, KindCancelled},
		{context.Canceled, KindCancelled},
		{ErrorBusy, KindBusy},
		{ErrorPoolExhausted, KindBusy},
		{ErrorNotImplemented, KindUnsupported},
		{timeoutErr{}, KindIoTimeout},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetworkError},
		{&textproto.Error{Code: 500, Msg: "syntax"}, KindProtocolError},
		{errors.New("anything else"), KindInternal},
	} {
		assert.Equal(t, test.want, Kind(test.err), "Kind(%v)", test.err)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Success", KindSuccess.String())
	assert.Equal(t, "NotFound", KindNotFound.String())
	assert.Equal(t, "IoTimeout", KindIoTimeout.String())
	assert.Equal(t, "Internal", KindInternal.String())
}

func TestErrorError(t *testing.T) {
	assert.Equal(t, "object not found", ErrorObjectNotFound.Error())
}
