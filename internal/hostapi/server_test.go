package hostapi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline-silicon/manycore-rt/internal/hostapi/wire"
	"github.com/ridgeline-silicon/manycore-rt/internal/launch"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
)

type fakeLauncher struct {
	launchErr error
	abortErr  error
	lastSlot  *launch.Slot
}

func (f *fakeLauncher) LaunchKernel(kernelID int, shireMask uint64, computePC uint64, params []byte) error {
	return f.launchErr
}
func (f *fakeLauncher) AbortKernel(kernelID int) error { return f.abortErr }
func (f *fakeLauncher) Slot(kernelID int) (*launch.Slot, error) {
	if f.lastSlot == nil {
		return nil, errors.New("no slot")
	}
	return f.lastSlot, nil
}

type fakeLogSetter struct{ level logx.Level }

func (f *fakeLogSetter) SetLevel(lv logx.Level) { f.level = lv }

func TestReflectTestEchoes(t *testing.T) {
	s := NewServer(&fakeLauncher{}, &fakeLogSetter{}, &fakeLogSetter{}, logx.Discard())
	resp := s.Handle(Message{Header: wire.Header{MessageID: wire.ReflectTest}, Payload: []byte("ping")})
	require.NotNil(t, resp)
	assert.Equal(t, []byte("ping"), resp.Payload)
}

func TestFWVersionReturnsTwentyBytes(t *testing.T) {
	s := NewServer(&fakeLauncher{}, &fakeLogSetter{}, &fakeLogSetter{}, logx.Discard())
	resp := s.Handle(Message{Header: wire.Header{MessageID: wire.DeviceFWVersion}})
	require.NotNil(t, resp)
	assert.Len(t, resp.Payload, 20)
}

func TestAPIVersionAlwaysAccepts(t *testing.T) {
	s := NewServer(&fakeLauncher{}, &fakeLogSetter{}, &fakeLogSetter{}, logx.Discard())
	resp := s.Handle(Message{Header: wire.Header{MessageID: wire.DeviceAPIVersion}})
	require.NotNil(t, resp)
	v, err := wire.UnmarshalDeviceAPIVersion(resp.Payload)
	require.NoError(t, err)
	assert.True(t, v.Accept)
}

func TestKernelLaunchRejectionSurfacesAsStatus(t *testing.T) {
	s := NewServer(&fakeLauncher{launchErr: errors.New("busy")}, &fakeLogSetter{}, &fakeLogSetter{}, logx.Discard())
	params := wire.KernelLaunchParams{KernelID: 1, ComputePC: 0x1000, ShireMask: 1}
	resp := s.Handle(Message{Header: wire.Header{MessageID: wire.KernelLaunch}, Payload: params.Marshal()})
	require.NotNil(t, resp)
	assert.Equal(t, byte(launchStatusRejected), resp.Payload[0])
}

func TestSetMasterLogLevelRetunesTarget(t *testing.T) {
	master := &fakeLogSetter{}
	s := NewServer(&fakeLauncher{}, master, &fakeLogSetter{}, logx.Discard())
	s.Handle(Message{Header: wire.Header{MessageID: wire.SetMasterLogLevel}, Payload: []byte{byte(logx.ERROR)}})
	assert.Equal(t, logx.ERROR, master.level)
}

func TestKernelStateUnknownSlotReturnsUnused(t *testing.T) {
	s := NewServer(&fakeLauncher{}, &fakeLogSetter{}, &fakeLogSetter{}, logx.Discard())
	resp := s.Handle(Message{Header: wire.Header{MessageID: wire.KernelState}, Payload: EncodeKernelID(7)})
	require.NotNil(t, resp)
	assert.Equal(t, byte(launch.Unused), resp.Payload[0])
}
