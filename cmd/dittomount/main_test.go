package main

import (
	"context"
	"crypto/sha512"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittomount/pkg/mounter"
	"github.com/marmos91/dittomount/pkg/plist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingChannel decodes every request the client sends and replays
// canned replies.
type recordingChannel struct {
	sent    []*plist.Dict
	replies []*plist.Dict
}

func (r *recordingChannel) Send(_ context.Context, msg any) error {
	data, err := plist.Marshal(msg, plist.FormatXML)
	if err != nil {
		return err
	}
	d, err := plist.UnmarshalDict(data)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, d)
	return nil
}

func (r *recordingChannel) Read(context.Context) (*plist.Dict, error) {
	if len(r.replies) == 0 {
		return nil, io.EOF
	}
	resp := r.replies[0]
	r.replies = r.replies[1:]
	return resp, nil
}

func (r *recordingChannel) SendRaw(context.Context, []byte) error { return nil }
func (r *recordingChannel) Close() error                          { return nil }

func TestQueryImageManifest(t *testing.T) {
	digest := sha512.Sum384([]byte("personalized image"))
	ch := &recordingChannel{
		replies: []*plist.Dict{plist.NewDict().Set("ImageSignature", plist.Data([]byte("manifest")))},
	}
	c := mounter.New(ch, nil)

	manifest, err := queryImageManifest(context.Background(), c, "DeveloperDiskImage", digest[:])
	require.NoError(t, err)
	assert.Equal(t, []byte("manifest"), manifest)

	require.Len(t, ch.sent, 1)
	req := ch.sent[0]

	command, err := req.String("Command")
	require.NoError(t, err)
	assert.Equal(t, mounter.CommandQueryPersonalizationManifest, command)

	personalizedType, err := req.String("PersonalizedImageType")
	require.NoError(t, err)
	assert.Equal(t, "DeveloperDiskImage", personalizedType)

	imageType, err := req.String("ImageType")
	require.NoError(t, err)
	assert.Equal(t, "DeveloperDiskImage", imageType, "lookup must use the personalized type, not the mount type")

	sig, err := req.Data("ImageSignature")
	require.NoError(t, err)
	assert.Equal(t, digest[:], sig)
}

func TestDescribeEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry plist.Value
		want  string
	}{
		{
			name: "MountPathAndType",
			entry: plist.DictValue(plist.NewDict().
				Set("MountPath", plist.String("/System/Developer")).
				Set("DiskImageType", plist.String("Personalized"))),
			want: "/System/Developer (Personalized)",
		},
		{
			name:  "MountPathOnly",
			entry: plist.DictValue(plist.NewDict().Set("MountPath", plist.String("/Developer"))),
			want:  "/Developer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeEntry(tt.entry))
		})
	}

	t.Run("FallsBackToValue", func(t *testing.T) {
		noPath := plist.DictValue(plist.NewDict().Set("IsMounted", plist.Bool(true)))
		assert.Equal(t, noPath.String(), describeEntry(noPath))

		notDict := plist.String("opaque")
		assert.Equal(t, notDict.String(), describeEntry(notDict))
	})
}

// pollCounter counts poll calls and cancels after a given number.
type pollCounter struct {
	mu     sync.Mutex
	calls  int
	stopAt int
	cancel context.CancelFunc
}

func (p *pollCounter) poll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.stopAt > 0 && p.calls >= p.stopAt {
		p.cancel()
	}
}

func (p *pollCounter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestWatchLoop(t *testing.T) {
	t.Run("NoServerStopsOnCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := &pollCounter{cancel: cancel}

		err := watchLoop(ctx, time.Hour, nil, p.poll)
		assert.NoError(t, err)
		assert.Equal(t, 1, p.count())
	})

	t.Run("ClosedServerChannelKeepsPolling", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p := &pollCounter{stopAt: 3, cancel: cancel}

		serverDone := make(chan error)
		close(serverDone)

		err := watchLoop(ctx, time.Millisecond, serverDone, p.poll)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, p.count(), 3)
	})

	t.Run("ServerFailureStopsWatch", func(t *testing.T) {
		p := &pollCounter{}
		serverDone := make(chan error, 1)
		serverDone <- errors.New("metrics server failed: address in use")

		err := watchLoop(context.Background(), time.Hour, serverDone, p.poll)
		assert.EqualError(t, err, "metrics server failed: address in use")
		assert.Equal(t, 1, p.count())
	})

	t.Run("ShutdownWaitsForServer", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := &pollCounter{stopAt: 1, cancel: cancel}

		serverDone := make(chan error, 1)
		go func() {
			<-ctx.Done()
			serverDone <- errors.New("metrics server shutdown error")
		}()

		err := watchLoop(ctx, time.Hour, serverDone, p.poll)
		assert.EqualError(t, err, "metrics server shutdown error")
	})

	t.Run("CleanShutdownWithServer", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := &pollCounter{stopAt: 1, cancel: cancel}

		serverDone := make(chan error, 1)
		go func() {
			<-ctx.Done()
			serverDone <- nil
		}()

		assert.NoError(t, watchLoop(ctx, time.Hour, serverDone, p.poll))
	})
}
