// Package hostapi implements the device side of the host mailbox contract
// (spec.md §6): REFLECT_TEST, DEVICE_FW_VERSION, DEVICE_API_VERSION,
// KERNEL_LAUNCH, KERNEL_ABORT, KERNEL_STATE, SET_MASTER_LOG_LEVEL,
// SET_WORKER_LOG_LEVEL, and the asynchronous KERNEL_RESULT notification.
package hostapi

import (
	"fmt"
	"sync"

	"github.com/ridgeline-silicon/manycore-rt/internal/hostapi/wire"
	"github.com/ridgeline-silicon/manycore-rt/internal/launch"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
)

// FirmwareVersion is this build's 20-byte git hash, reported by
// DEVICE_FW_VERSION. It is a zero-filled stand-in: nothing in this module
// fills it in.
var FirmwareVersion = make([]byte, 20)

// APIVersion is the device's host-protocol version, reported by
// DEVICE_API_VERSION.
var APIVersion = struct{ Major, Minor, Patch uint32 }{Major: 1, Minor: 0, Patch: 0}

// Launcher is the subset of internal/launch.Launcher the host API drives.
type Launcher interface {
	LaunchKernel(kernelID int, shireMask uint64, computePC uint64, params []byte) error
	AbortKernel(kernelID int) error
	Slot(kernelID int) (*launch.Slot, error)
}

// LogLevelSetter lets SET_MASTER_LOG_LEVEL / SET_WORKER_LOG_LEVEL retune a
// live logger (the master's own, or a broadcast to every worker hart).
type LogLevelSetter interface {
	SetLevel(lv logx.Level)
}

// Message is one decoded host<->device mailbox message: the fixed header
// plus whatever payload bytes followed it.
type Message struct {
	Header  wire.Header
	Payload []byte
}

// Server decodes host mailbox requests, drives the runtime, and encodes
// responses. It has no transport opinion; internal/hostapi/transport.go
// adapts it to a gorilla/websocket connection.
type Server struct {
	mu sync.Mutex

	launcher    Launcher
	masterLog   LogLevelSetter
	workerLog   LogLevelSetter
	log         *logx.Logger
	nowHostTime func() uint64 // injected so tests don't depend on wall clock
}

func NewServer(launcher Launcher, masterLog, workerLog LogLevelSetter, log *logx.Logger) *Server {
	return &Server{
		launcher:    launcher,
		masterLog:   masterLog,
		workerLog:   workerLog,
		log:         log,
		nowHostTime: func() uint64 { return 0 },
	}
}

// Handle decodes one request message and returns the response to send
// back, or nil if the request has no response (an unknown message id, which
// is only logged). Malformed payloads of known ids get a bad-request status.
func (s *Server) Handle(req Message) *Message {
	switch req.Header.MessageID {
	case wire.ReflectTest:
		return s.handleReflectTest(req)
	case wire.DeviceFWVersion:
		return s.handleFWVersion(req)
	case wire.DeviceAPIVersion:
		return s.handleAPIVersion(req)
	case wire.KernelLaunch:
		return s.handleKernelLaunch(req)
	case wire.KernelAbort:
		return s.handleKernelAbort(req)
	case wire.KernelState:
		return s.handleKernelState(req)
	case wire.SetMasterLogLevel:
		return s.handleSetLogLevel(req, s.masterLog)
	case wire.SetWorkerLogLevel:
		return s.handleSetLogLevel(req, s.workerLog)
	default:
		s.log.Error("hostapi: unknown message id", logx.Uint32("id", uint32(req.Header.MessageID)))
		return nil
	}
}

func (s *Server) respond(req Message, payload []byte) *Message {
	return &Message{
		Header: wire.Header{
			MessageID:       req.Header.MessageID,
			DeviceTimestamp: s.nowHostTime(),
		},
		Payload: payload,
	}
}

// handleReflectTest echoes the request payload back unchanged, spec.md's
// liveness probe.
func (s *Server) handleReflectTest(req Message) *Message {
	return s.respond(req, req.Payload)
}

func (s *Server) handleFWVersion(req Message) *Message {
	return s.respond(req, FirmwareVersion)
}

// handleAPIVersion reports the device's API version. accept's real policy
// (cross-checking the host's requested version) never landed upstream
// either; this stub always accepts, matching that unresolved state rather
// than inventing a compatibility matrix that was never specified.
func (s *Server) handleAPIVersion(req Message) *Message {
	resp := wire.DeviceAPIVersion{
		Major:  APIVersion.Major,
		Minor:  APIVersion.Minor,
		Patch:  APIVersion.Patch,
		Hash:   FirmwareVersion,
		Accept: true,
	}
	return s.respond(req, resp.Marshal())
}

func (s *Server) handleKernelLaunch(req Message) *Message {
	params, err := wire.UnmarshalKernelLaunchParams(req.Payload)
	if err != nil {
		s.log.Error("hostapi: bad kernel launch payload", logx.Err(err))
		return s.respond(req, []byte{byte(launchStatusBadRequest)})
	}

	status := launchStatusOK
	if err := s.launcher.LaunchKernel(int(params.KernelID), params.ShireMask, params.ComputePC, params.ParamsBlob); err != nil {
		s.log.Error("hostapi: kernel launch rejected", logx.Err(err), logx.Uint32("kernel_id", params.KernelID))
		status = launchStatusRejected
	}
	return s.respond(req, []byte{byte(status)})
}

type launchStatus byte

const (
	launchStatusOK launchStatus = iota
	launchStatusRejected
	launchStatusBadRequest
)

func (s *Server) handleKernelAbort(req Message) *Message {
	kernelID, err := decodeKernelID(req.Payload)
	if err != nil {
		return s.respond(req, []byte{byte(launchStatusBadRequest)})
	}
	status := launchStatusOK
	if err := s.launcher.AbortKernel(kernelID); err != nil {
		status = launchStatusRejected
	}
	return s.respond(req, []byte{byte(status)})
}

// handleKernelState answers a KERNEL_STATE query, which spec.md notes has
// no side effects.
func (s *Server) handleKernelState(req Message) *Message {
	kernelID, err := decodeKernelID(req.Payload)
	if err != nil {
		return s.respond(req, []byte{byte(launch.Unused)})
	}
	slot, err := s.launcher.Slot(kernelID)
	if err != nil {
		return s.respond(req, []byte{byte(launch.Unused)})
	}
	return s.respond(req, []byte{byte(slot.State())})
}

func (s *Server) handleSetLogLevel(req Message, target LogLevelSetter) *Message {
	if target == nil || len(req.Payload) < 1 {
		return s.respond(req, nil)
	}
	target.SetLevel(logx.ParseLevel(int(req.Payload[0])))
	return s.respond(req, nil)
}

func decodeKernelID(payload []byte) (int, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("hostapi: kernel id payload too short")
	}
	return int(uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24), nil
}

// EncodeKernelID is the inverse of decodeKernelID, exported for transports
// and tests that build requests.
func EncodeKernelID(id int) []byte {
	u := uint32(id)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

// KernelResult builds the asynchronous KERNEL_RESULT notification the
// runtime pushes once a kernel slot completes (internal/launch's OnResult
// callback), never in direct response to a host request.
func KernelResult(kernelID int, errored bool) Message {
	status := launchStatusOK
	if errored {
		status = launchStatusRejected
	}
	payload := append(EncodeKernelID(kernelID), byte(status))
	return Message{Header: wire.Header{MessageID: wire.KernelResult}, Payload: payload}
}
