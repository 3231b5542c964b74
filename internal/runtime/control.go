package runtime

import (
	"context"

	"github.com/loqalabs/loqa-capture/internal/apperr"
	"github.com/loqalabs/loqa-capture/internal/protocol"
)

// registerControl exposes start, stop and status as request/reply subjects
// with the same semantics as the HTTP routes.
func (r *Runtime) registerControl() error {
	handlers := map[string]func([]byte) any{
		protocol.SubjectControlStart:  r.controlStart,
		protocol.SubjectControlStop:   r.controlStop,
		protocol.SubjectControlStatus: r.controlStatus,
	}
	for subject, handle := range handlers {
		if err := r.bus.HandleRequests(subject, handle); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) controlStart([]byte) any {
	sess, err := r.supervisor.Start()
	if err != nil {
		return protocol.ControlReply{Status: "error", Message: apperr.Message(err), Active: r.supervisor.Status()}
	}
	return protocol.ControlReply{Status: "success", Message: "Recording started.", Active: true, FileName: sess.FileName}
}

func (r *Runtime) controlStop([]byte) any {
	res := r.supervisor.Stop(context.Background())
	return protocol.ControlReply{Status: "success", Message: "Recording stopped.", FileName: res.Session.FileName}
}

func (r *Runtime) controlStatus([]byte) any {
	reply := protocol.ControlReply{Status: "success", Active: r.supervisor.Status()}
	if sess, ok := r.supervisor.Current(); ok {
		reply.FileName = sess.FileName
	}
	return reply
}
