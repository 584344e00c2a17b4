package capture

import (
	"context"
	"io"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestSelectInputFromListPrimaryDefault(t *testing.T) {
	inputs := []Input{
		{ID: "usb-headset", Description: "USB Headset Mono", Available: true, Default: true},
		{ID: "laptop", Description: "Built-in Microphone", Available: true},
	}

	selection, err := selectInputFromList(inputs, "default", "default")
	require.NoError(t, err)
	require.Equal(t, "usb-headset", selection.Input.ID)
	require.Empty(t, selection.Warning)
}

func TestSelectInputFromListMutedPrimaryUsesFallback(t *testing.T) {
	inputs := []Input{
		{ID: "usb-headset", Description: "USB Headset Mono", Available: true, Muted: true, Default: true},
		{ID: "laptop", Description: "Built-in Microphone", Available: true},
	}

	selection, err := selectInputFromList(inputs, "headset", "built-in")
	require.NoError(t, err)
	require.Equal(t, "laptop", selection.Input.ID)
	require.Contains(t, selection.Warning, "muted")
	require.True(t, selection.Fallback)
}

func TestSelectInputFromListFailures(t *testing.T) {
	_, err := selectInputFromList(nil, "", "")
	require.ErrorContains(t, err, "no audio input devices")

	muted := []Input{{ID: "usb-headset", Available: true, Muted: true, Default: true}}
	_, err = selectInputFromList(muted, "default", "default")
	require.ErrorContains(t, err, "muted")

	one := []Input{{ID: "usb-headset", Description: "USB Headset", Available: true, Default: true}}
	_, err = selectInputFromList(one, "missing", "default")
	require.ErrorContains(t, err, "did not match")

	unavailable := []Input{{ID: "usb-headset", Default: true}}
	_, err = selectInputFromList(unavailable, "usb", "nowhere")
	require.ErrorContains(t, err, "fallback \"nowhere\" not found")
}

func TestInputMatchesByIDAndDescription(t *testing.T) {
	in := Input{ID: "alsa_input.usb-headset", Description: "USB Headset Mono"}
	require.True(t, inputMatches(in, "headset"))
	require.True(t, inputMatches(in, "usb headset"))
	require.False(t, inputMatches(in, "missing"))
	require.False(t, inputMatches(in, ""))
}

func TestListInputsFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListInputs(context.Background())
	require.Error(t, err)

	_, err = SelectInput(context.Background(), "default", "default")
	require.Error(t, err)
}

func TestSourceStateString(t *testing.T) {
	require.Equal(t, "running", sourceStateString(0))
	require.Equal(t, "idle", sourceStateString(1))
	require.Equal(t, "suspended", sourceStateString(2))
	require.Equal(t, "unknown(99)", sourceStateString(99))
}

func TestSourceAvailable(t *testing.T) {
	require.False(t, sourceAvailable(nil))
	require.True(t, sourceAvailable(&pulseproto.GetSourceInfoReply{}))

	available := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, available, []sourcePort{{name: "mic", available: 2}})
	require.True(t, sourceAvailable(available))

	notAvailable := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, notAvailable, []sourcePort{{name: "mic", available: 1}})
	require.False(t, sourceAvailable(notAvailable))
}

func TestMicrophoneChunksAndStopFlushesPending(t *testing.T) {
	mic := &Microphone{
		chunks: make(chan []byte, 8),
		stopCh: make(chan struct{}),
	}

	input := make([]byte, chunkSizeBytes+111)
	for i := range input {
		input[i] = byte(i % 255)
	}

	n, err := mic.onPCM(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)

	first := <-mic.Chunks()
	require.Len(t, first, chunkSizeBytes)

	require.NoError(t, mic.Stop())
	require.NoError(t, mic.Stop())

	remaining, ok := <-mic.Chunks()
	require.True(t, ok)
	require.Len(t, remaining, 111)

	_, ok = <-mic.Chunks()
	require.False(t, ok)

	n, err = mic.onPCM([]byte{1, 2, 3})
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
}

type sourcePort struct {
	name      string
	available uint32
}

func setSourcePorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports []sourcePort) {
	t.Helper()

	sliceType := reflect.TypeOf(reply.Ports)
	sliceValue := reflect.MakeSlice(sliceType, len(ports), len(ports))
	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}
	reflect.ValueOf(reply).Elem().FieldByName("Ports").Set(sliceValue)
}
