package videoreceiver

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/media/mediatest"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/pipeline"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/probe"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/recording"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/source"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/surface"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const udpURI = "udp://0.0.0.0:5600"

type harness struct {
	r      *Receiver
	fw     *mediatest.Framework
	surf   *surface.AppSurface
	store  *config.Store
	bus    *events.Bus
	seen   *eventLog
	cancel context.CancelFunc
	done   chan error

	waitOnce sync.Once
	runErr   error
}

func (h *harness) wait() error {
	h.waitOnce.Do(func() { h.runErr = <-h.done })
	return h.runErr
}

// stopRun cancels Run and waits for it to return.
func (h *harness) stopRun(t *testing.T) {
	t.Helper()
	h.cancel()
	require.NoError(t, h.wait())
}

func (h *harness) mainPipelines() []*mediatest.Pipeline {
	return h.fw.PipelinesNamed(pipeline.Name)
}

func (h *harness) tick(t *testing.T, now time.Time) {
	t.Helper()
	require.NoError(t, h.r.do(func() error {
		h.r.tick(now)
		return nil
	}))
}

func (h *harness) waitStreaming(t *testing.T) {
	t.Helper()
	require.Eventually(t, h.r.Streaming, 2*time.Second, 5*time.Millisecond, "pipeline never reached playing")
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()

	fw := mediatest.New()
	surf, err := surface.New(fw)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Video.SavePath = filepath.Join(t.TempDir(), "videos")
	store := config.NewStore(cfg)

	bus := events.New()
	seen := newEventLog(bus)

	opts := Options{
		Framework:      fw,
		Surface:        surf,
		Settings:       store,
		Events:         bus,
		URI:            udpURI,
		StopTimeout:    time.Second,
		HealthInterval: time.Hour,
		Probe: probe.Config{
			InitialDelay:  time.Millisecond,
			RetryInterval: 5 * time.Millisecond,
			DialTimeout:   50 * time.Millisecond,
		},
	}
	for _, m := range mutate {
		m(&opts)
	}

	r, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{r: r, fw: fw, surf: surf, store: store, bus: bus, seen: seen, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- r.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = h.wait()
		seen.close()
		bus.Close()
		surf.Close()
	})
	return h
}

// eventLog records what the receiver published.
type eventLog struct {
	mu        sync.Mutex
	states    []events.StateChangedEvent
	finalized []events.RecordingFinalizedEvent
	evicted   []events.FilesEvictedEvent
	messages  []events.UserMessageEvent
	unsubs    []func()
}

func newEventLog(bus *events.Bus) *eventLog {
	l := &eventLog{}
	l.unsubs = []func(){
		bus.Subscribe(func(ev events.StateChangedEvent) {
			l.mu.Lock()
			l.states = append(l.states, ev)
			l.mu.Unlock()
		}),
		bus.Subscribe(func(ev events.RecordingFinalizedEvent) {
			l.mu.Lock()
			l.finalized = append(l.finalized, ev)
			l.mu.Unlock()
		}),
		bus.Subscribe(func(ev events.FilesEvictedEvent) {
			l.mu.Lock()
			l.evicted = append(l.evicted, ev)
			l.mu.Unlock()
		}),
		bus.Subscribe(func(ev events.UserMessageEvent) {
			l.mu.Lock()
			l.messages = append(l.messages, ev)
			l.mu.Unlock()
		}),
	}
	return l
}

func (l *eventLog) close() {
	for _, u := range l.unsubs {
		u()
	}
}

func (l *eventLog) stateTargets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.states))
	for _, ev := range l.states {
		out = append(out, ev.To)
	}
	return out
}

func (l *eventLog) finalizedRecordings() []events.RecordingFinalizedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.RecordingFinalizedEvent(nil), l.finalized...)
}

func (l *eventLog) evictions() []events.FilesEvictedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.FilesEvictedEvent(nil), l.evicted...)
}

func (l *eventLog) userMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.messages))
	for _, ev := range l.messages {
		out = append(out, ev.Message)
	}
	return out
}

// flakyDialer fails a fixed number of times, then connects.
type flakyDialer struct {
	failures int32
	calls    atomic.Int32
}

func (d *flakyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.calls.Add(1) <= d.failures {
		return nil, errors.New("dial tcp: connection refused")
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func recordings(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}

func finalized(t *testing.T, path string) bool {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.HasSuffix(string(data), mediatest.FinalizedTrailer)
}

// teardowns reads the teardown counter for reason from the default registry.
func teardowns(t *testing.T, reason string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "video_receiver_pipeline_teardowns_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "reason" && lp.GetValue() == reason {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestNew_RequiresFramework(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Framework: mediatest.New(), URI: "udp://0.0.0.0"})
	assert.Error(t, err, "udp without port")
}

func TestStart_NoURIBuildsNothing(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.URI = "" })

	assert.ErrorIs(t, h.r.Start(), ErrNoEndpoint)
	assert.Equal(t, StateIdle, h.r.State())
	assert.Empty(t, h.fw.Pipelines())
}

func TestStart_NoSurface(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Surface = nil })

	assert.ErrorIs(t, h.r.Start(), ErrNoSurface)
	assert.Equal(t, StateIdle, h.r.State())
	assert.Empty(t, h.fw.Pipelines())
}

func TestStart_DatagramRunsWithoutProbe(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.r.Start())
	assert.Equal(t, StateRunning, h.r.State())
	assert.False(t, h.r.prober.Armed())
	h.waitStreaming(t)

	require.Eventually(t, func() bool { return len(h.seen.stateTargets()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"running"}, h.seen.stateTargets(), "no detour through starting")

	require.Len(t, h.mainPipelines(), 1)
	assert.True(t, h.mainPipelines()[0].Contains(h.surf.Sink().(*mediatest.Element)))
}

func TestStart_WhileRunningIsNoop(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.r.Start())
	h.waitStreaming(t)
	require.NoError(t, h.r.Start())

	assert.Equal(t, StateRunning, h.r.State())
	assert.Len(t, h.mainPipelines(), 1)
}

func TestStart_BuildFailureLeavesIdle(t *testing.T) {
	h := newHarness(t)
	h.fw.FailFactory("avdec_h264")

	err := h.r.Start()
	var buildErr *pipeline.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, pipeline.StageDecoder, buildErr.Stage)
	assert.Equal(t, StateIdle, h.r.State())

	require.Len(t, h.mainPipelines(), 1)
	assert.Equal(t, 1, h.mainPipelines()[0].Released())
	assert.Nil(t, h.surf.Sink().(*mediatest.Element).Parent(), "sink left for the next build")
}

func TestStart_PlayingFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	h.fw.FailPlaying(pipeline.Name)

	assert.Error(t, h.r.Start())
	assert.Equal(t, StateIdle, h.r.State())
	require.Len(t, h.mainPipelines(), 1)
	assert.Equal(t, 1, h.mainPipelines()[0].Released())
	assert.Equal(t, 0, h.surf.Sink().(*mediatest.Element).Released())
}

func TestStart_ProbesSessionUntilReachable(t *testing.T) {
	dialer := &flakyDialer{failures: 3}
	h := newHarness(t, func(o *Options) {
		o.URI = "rtsp://camera.local:8554/live"
		o.Dialer = dialer
	})

	require.NoError(t, h.r.Start())
	assert.Equal(t, StateStarting, h.r.State())
	assert.Empty(t, h.mainPipelines(), "no graph before the server answers")

	require.Eventually(t, func() bool { return h.r.State() == StateRunning }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, dialer.calls.Load(), int32(4))
	require.Len(t, h.mainPipelines(), 1)

	require.Eventually(t, func() bool { return len(h.seen.stateTargets()) >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"starting", "running"}, h.seen.stateTargets(), "no detour through idle")

	src := h.fw.Elements("rtspsrc")
	require.Len(t, src, 1)
	assert.Equal(t, "rtsp://camera.local:8554/live", src[0].Prop("location"))
}

func TestStart_WhileStartingIsNoop(t *testing.T) {
	dialer := &flakyDialer{failures: 1 << 30}
	h := newHarness(t, func(o *Options) {
		o.URI = "tcp://10.0.0.9:5000"
		o.Dialer = dialer
	})

	require.NoError(t, h.r.Start())
	require.NoError(t, h.r.Start())
	assert.Equal(t, StateStarting, h.r.State())
	assert.Empty(t, h.mainPipelines())
}

func TestStop_CancelsPendingProbe(t *testing.T) {
	dialer := &flakyDialer{failures: 1 << 30}
	h := newHarness(t, func(o *Options) {
		o.URI = "rtsp://camera.local/live"
		o.Dialer = dialer
	})

	require.NoError(t, h.r.Start())
	require.Eventually(t, func() bool { return dialer.calls.Load() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, h.r.Stop())
	assert.Equal(t, StateIdle, h.r.State())
	assert.False(t, h.r.prober.Armed())
	assert.Empty(t, h.mainPipelines())
}

func TestStop_TwiceReleasesOnce(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.r.Start())
	h.waitStreaming(t)

	require.NoError(t, h.r.Stop())
	require.NoError(t, h.r.Stop())

	assert.Equal(t, StateIdle, h.r.State())
	assert.False(t, h.r.Streaming())
	p := h.mainPipelines()[0]
	assert.Equal(t, 1, p.EOSSent())
	assert.Equal(t, 1, p.Released())

	sink := h.surf.Sink().(*mediatest.Element)
	assert.Nil(t, sink.Parent())
	assert.Equal(t, 0, sink.Released())
}

func TestStop_BeforeStreamingTearsDownImmediately(t *testing.T) {
	h := newHarness(t)
	h.fw.SetNoBus(true)

	require.NoError(t, h.r.Start())
	require.NoError(t, h.r.Stop())

	assert.Equal(t, StateIdle, h.r.State())
	p := h.mainPipelines()[0]
	assert.Equal(t, 0, p.EOSSent())
	assert.Equal(t, 1, p.Released())
}

func TestStop_TimeoutForcesTeardown(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.StopTimeout = 100 * time.Millisecond })
	h.fw.SetEOSBehavior(pipeline.Name, mediatest.EOSSilent)

	require.NoError(t, h.r.Start())
	h.waitStreaming(t)

	start := time.Now()
	require.NoError(t, h.r.Stop())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, StateIdle, h.r.State())
	assert.Equal(t, 1, h.mainPipelines()[0].Released())
}

func TestStop_ErrorWhileStoppingEndsWait(t *testing.T) {
	h := newHarness(t)
	h.fw.SetEOSBehavior(pipeline.Name, mediatest.EOSError)

	require.NoError(t, h.r.Start())
	h.waitStreaming(t)

	stops := teardowns(t, reasonStop)
	errs := teardowns(t, reasonError)

	require.NoError(t, h.r.Stop())
	assert.Equal(t, StateIdle, h.r.State())
	assert.Equal(t, 1, h.mainPipelines()[0].Released())
	assert.Equal(t, errs+1, teardowns(t, reasonError), "counted as an error")
	assert.Equal(t, stops, teardowns(t, reasonStop))
}

func TestRuntimeFailures_TearDown(t *testing.T) {
	tests := []struct {
		name string
		post func(p *mediatest.Pipeline)
	}{
		{"error", func(p *mediatest.Pipeline) { p.PostError("could not connect to server: connection refused") }},
		{"unexpected end of stream", func(p *mediatest.Pipeline) { p.PostEOS() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.r.Start())
			h.waitStreaming(t)

			p := h.mainPipelines()[0]
			tt.post(p)

			require.Eventually(t, func() bool { return h.r.State() == StateIdle }, time.Second, 5*time.Millisecond)
			assert.Equal(t, 1, p.Released())
			assert.False(t, h.r.Streaming())
		})
	}
}

func TestRecording_RoundTripFinalizesOneFile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.r.Start())
	h.waitStreaming(t)

	require.NoError(t, h.r.StartRecording())
	assert.True(t, h.r.Recording())
	status := h.r.Status()
	assert.True(t, strings.HasSuffix(status.Location, ".mkv"))

	require.NoError(t, h.r.StopRecording())
	require.Eventually(t, func() bool { return !h.r.Recording() }, 2*time.Second, 5*time.Millisecond)

	files := recordings(t, h.store.SavePath())
	require.Len(t, files, 1)
	assert.Equal(t, status.Location, files[0])
	assert.True(t, finalized(t, files[0]))

	drains := h.fw.PipelinesNamed(recording.DrainName)
	require.Len(t, drains, 1)
	assert.Equal(t, 1, drains[0].Released())

	tee := h.fw.Elements("tee")[0]
	assert.Len(t, tee.RequestPads(), 1, "only the decode path is left on the tee")
	assert.Equal(t, StateRunning, h.r.State(), "live path untouched")

	require.Eventually(t, func() bool { return len(h.seen.finalizedRecordings()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.seen.finalizedRecordings()[0].Clean)
}

func TestRecording_FormatSelectsMuxer(t *testing.T) {
	h := newHarness(t)
	cfg := *h.store.Load()
	cfg.Video.RecordingFormat = 2
	h.store.Swap(&cfg)

	require.NoError(t, h.r.Start())
	require.NoError(t, h.r.StartRecording())

	assert.Len(t, h.fw.Elements("mp4mux"), 1)
	assert.True(t, strings.HasSuffix(h.r.Status().Location, ".mp4"))
}

func TestRecording_RacingQuiesceDetachesOnce(t *testing.T) {
	h := newHarness(t)
	h.fw.SetProbeMode(mediatest.ProbeManual)

	require.NoError(t, h.r.Start())
	h.waitStreaming(t)
	require.NoError(t, h.r.StartRecording())

	require.NoError(t, h.r.StopRecording())
	require.NoError(t, h.r.StopRecording())
	require.Equal(t, 2, h.fw.PendingProbes())

	h.fw.FireIdleProbes()

	require.Eventually(t, func() bool { return !h.r.Recording() }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.fw.PipelinesNamed(recording.DrainName), 1)

	files := recordings(t, h.store.SavePath())
	require.Len(t, files, 1)
	assert.True(t, finalized(t, files[0]))
}

func TestRecording_Rejections(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.r.StartRecording(), ErrNotRunning)
	assert.ErrorIs(t, h.r.StopRecording(), ErrNotRecording)

	require.NoError(t, h.r.Start())
	tee := h.fw.Elements("tee")[0]

	cfg := *h.store.Load()
	cfg.Video.RecordingFormat = 7
	h.store.Swap(&cfg)
	assert.ErrorIs(t, h.r.StartRecording(), ErrInvalidFormat)

	cfg.Video.RecordingFormat = 0
	cfg.Video.SavePath = "  "
	h.store.Swap(&cfg)
	assert.ErrorIs(t, h.r.StartRecording(), ErrNoSavePath)

	assert.False(t, h.r.Recording())
	assert.Len(t, tee.RequestPads(), 1, "graph untouched")
	assert.Empty(t, h.fw.Elements("filesink"))

	require.Eventually(t, func() bool { return len(h.seen.userMessages()) == 2 }, time.Second, 5*time.Millisecond)

	cfg.Video.SavePath = t.TempDir()
	h.store.Swap(&cfg)
	require.NoError(t, h.r.StartRecording())
	assert.ErrorIs(t, h.r.StartRecording(), ErrAlreadyRecording)
	assert.Len(t, h.fw.Elements("filesink"), 1)
}

func TestRecording_AttachFailureKeepsGraph(t *testing.T) {
	h := newHarness(t)
	h.fw.FailFactory("matroskamux")

	require.NoError(t, h.r.Start())
	h.waitStreaming(t)

	assert.Error(t, h.r.StartRecording())
	assert.False(t, h.r.Recording())
	assert.Len(t, h.fw.Elements("tee")[0].RequestPads(), 1)
	assert.Equal(t, StateRunning, h.r.State())
}

func TestRecording_DrainFailureFinalizesAnyway(t *testing.T) {
	h := newHarness(t)
	h.fw.FailPlaying(recording.DrainName)

	require.NoError(t, h.r.Start())
	h.waitStreaming(t)
	require.NoError(t, h.r.StartRecording())
	require.NoError(t, h.r.StopRecording())

	require.Eventually(t, func() bool { return !h.r.Recording() }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.seen.finalizedRecordings()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.seen.finalizedRecordings()[0].Clean)

	sink := h.fw.Elements("filesink")[0]
	assert.Equal(t, 1, sink.Released())
	assert.Equal(t, StateRunning, h.r.State())
}

func TestRecording_RetentionEvictsOldestFirst(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	cfg := *h.store.Load()
	cfg.Video.SavePath = dir
	cfg.Video.StorageLimitEnabled = true
	cfg.Video.MaxVideoSizeMB = 1
	h.store.Swap(&cfg)

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"a.mkv", "b.mov", "c.mp4"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, make([]byte, 600*1024), 0o644))
		mt := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mt, mt))
	}

	require.NoError(t, h.r.Start())
	require.NoError(t, h.r.StartRecording())

	assert.NoFileExists(t, filepath.Join(dir, "a.mkv"))
	assert.NoFileExists(t, filepath.Join(dir, "b.mov"))
	assert.FileExists(t, filepath.Join(dir, "c.mp4"))

	require.Eventually(t, func() bool { return len(h.seen.evictions()) == 1 }, time.Second, 5*time.Millisecond)
	ev := h.seen.evictions()[0]
	assert.Equal(t, []string{filepath.Join(dir, "a.mkv"), filepath.Join(dir, "b.mov")}, ev.Paths)
	assert.Equal(t, int64(600*1024), ev.Remaining)
}

func TestStop_WhileRecordingFinalizesFirst(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.r.Start())
	h.waitStreaming(t)
	require.NoError(t, h.r.StartRecording())

	require.NoError(t, h.r.Stop())

	require.Eventually(t, func() bool { return h.r.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.r.Recording())

	files := recordings(t, h.store.SavePath())
	require.Len(t, files, 1)
	assert.True(t, finalized(t, files[0]))
	assert.Equal(t, 1, h.mainPipelines()[0].Released())
	assert.Equal(t, 1, h.mainPipelines()[0].EOSSent())
}

func TestStop_WhileRecordingTapNeverIdle(t *testing.T) {
	h := newHarness(t)
	h.fw.SetProbeMode(mediatest.ProbeManual)
	require.NoError(t, h.r.Start())
	h.waitStreaming(t)
	require.NoError(t, h.r.StartRecording())

	require.NoError(t, h.r.Stop())
	assert.Equal(t, StateStopping, h.r.State())
	assert.Equal(t, 1, h.fw.PendingProbes())

	h.tick(t, time.Now())
	assert.Equal(t, StateStopping, h.r.State(), "tap still gets its chance")

	h.tick(t, time.Now().Add(2*time.Second))
	require.Eventually(t, func() bool {
		return h.r.State() == StateIdle && !h.r.Recording()
	}, 2*time.Second, 5*time.Millisecond)

	files := recordings(t, h.store.SavePath())
	require.Len(t, files, 1)
	assert.True(t, finalized(t, files[0]))
	assert.Equal(t, 1, h.mainPipelines()[0].Released())
	assert.Len(t, h.fw.PipelinesNamed(recording.DrainName), 1)
}

func TestRuntimeError_WhileRecordingDrainsBranch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.r.Start())
	h.waitStreaming(t)
	require.NoError(t, h.r.StartRecording())

	h.mainPipelines()[0].PostError("internal data stream error: not-negotiated")

	require.Eventually(t, func() bool {
		return h.r.State() == StateIdle && !h.r.Recording()
	}, 2*time.Second, 5*time.Millisecond)

	files := recordings(t, h.store.SavePath())
	require.Len(t, files, 1)
	assert.True(t, finalized(t, files[0]), "branch drained before the graph went away")
}

func TestHealth_StopsStaleStreamOncePerTick(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.r.Start())
	h.waitStreaming(t)

	now := time.Now()
	h.tick(t, now)
	assert.True(t, h.r.VideoRunning())
	assert.Equal(t, now.UnixNano(), h.surf.LastFrame().UnixNano(), "freshness clock reset on activation")

	h.tick(t, now.Add(time.Second))
	assert.Equal(t, StateRunning, h.r.State(), "frame age within timeout")

	h.tick(t, now.Add(3*time.Second))
	assert.Equal(t, StateIdle, h.r.State())
	assert.False(t, h.r.VideoRunning())
	first := h.mainPipelines()[0]
	assert.Equal(t, 1, first.EOSSent())
	assert.Equal(t, 1, first.Released())

	h.tick(t, now.Add(4*time.Second))
	assert.Equal(t, StateRunning, h.r.State(), "restarted by the monitor")
	assert.Len(t, h.mainPipelines(), 2)
	assert.Equal(t, 1, first.EOSSent())
}

func TestHealth_FreshFramesKeepRunning(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.r.Start())
	h.waitStreaming(t)

	now := time.Now()
	h.tick(t, now)

	sink := h.surf.Sink().(*mediatest.Element)
	for i := 1; i <= 5; i++ {
		sink.PushFrame(media.Frame{Data: []byte{0x10, 0x80}, Width: 2, Height: 1})
		h.tick(t, time.Now())
	}
	assert.Equal(t, StateRunning, h.r.State())
	assert.Equal(t, uint64(5), h.surf.FrameCount())
}

func TestHealth_SkipsWhileStarting(t *testing.T) {
	dialer := &flakyDialer{failures: 1 << 30}
	h := newHarness(t, func(o *Options) {
		o.URI = "rtsp://camera.local/live"
		o.Dialer = dialer
	})

	require.NoError(t, h.r.Start())
	h.tick(t, time.Now())
	h.tick(t, time.Now().Add(time.Minute))

	assert.Equal(t, StateStarting, h.r.State())
	assert.Empty(t, h.mainPipelines())
}

func TestHealth_ZeroTimeoutDisablesStallDetection(t *testing.T) {
	h := newHarness(t)
	cfg := *h.store.Load()
	cfg.Video.RTSPTimeoutS = 0
	h.store.Swap(&cfg)

	require.NoError(t, h.r.Start())
	h.waitStreaming(t)

	now := time.Now()
	h.tick(t, now)
	h.tick(t, now.Add(time.Hour))
	assert.Equal(t, StateRunning, h.r.State())
}

func TestHealth_MalformedCapsIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.fw.SetFailCaps(true)

	err := h.r.Start()
	var buildErr *pipeline.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.True(t, buildErr.Fatal())
	assert.ErrorIs(t, err, pipeline.ErrMalformedCaps)
	require.Len(t, h.mainPipelines(), 1)

	now := time.Now()
	for i := 1; i <= 5; i++ {
		h.tick(t, now.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, StateIdle, h.r.State())
	assert.Len(t, h.mainPipelines(), 1, "no rebuild after a permanent failure")

	h.fw.SetFailCaps(false)
	require.NoError(t, h.r.SetURI("udp://0.0.0.0:5602"))
	h.tick(t, now.Add(10*time.Second))
	assert.Equal(t, StateRunning, h.r.State(), "a new endpoint re-enables restarts")
	assert.Len(t, h.mainPipelines(), 2)
}

func TestSwitchSource_RestartsOnSelectedNode(t *testing.T) {
	sel := source.NewSelector([]source.Node{
		{Name: "drone", TargetPort: 5600},
		{Name: "gate", URI: "udp://0.0.0.0:5700", Latency: 40 * time.Millisecond},
	})
	h := newHarness(t, func(o *Options) { o.Selector = sel })

	require.NoError(t, h.r.Start())
	h.waitStreaming(t)

	h.r.Next()
	require.NoError(t, h.r.SwitchSource())

	assert.Equal(t, "udp://0.0.0.0:5700", h.r.URI())
	assert.Equal(t, StateRunning, h.r.State())
	pipes := h.mainPipelines()
	require.Len(t, pipes, 2)
	assert.Equal(t, 1, pipes[0].Released())

	jitter := h.fw.Elements("rtpjitterbuffer")
	require.Len(t, jitter, 2)
	assert.Equal(t, uint(80), jitter[1].Prop("latency"), "twice the node latency")

	h.r.Previous()
	node, ok := sel.Current()
	require.True(t, ok)
	assert.Equal(t, "drone", node.Name)
}

func TestSetURI(t *testing.T) {
	h := newHarness(t)

	assert.Error(t, h.r.SetURI("tcp://10.0.0.9"))
	assert.Equal(t, udpURI, h.r.URI())

	require.NoError(t, h.r.SetURI("rtsp://camera.local/live"))
	ep, ok := h.r.Endpoint()
	require.True(t, ok)
	assert.Equal(t, 554, ep.Port)

	require.NoError(t, h.r.SetLatency(50*time.Millisecond))
	ep, _ = h.r.Endpoint()
	assert.Equal(t, 50*time.Millisecond, ep.Latency)

	require.NoError(t, h.r.SetURI(""))
	assert.ErrorIs(t, h.r.Start(), ErrNoEndpoint)
}

func TestRun_ShutdownFinalizesRecording(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.r.Start())
	h.waitStreaming(t)
	require.NoError(t, h.r.StartRecording())

	h.stopRun(t)

	assert.Equal(t, StateIdle, h.r.State())
	assert.False(t, h.r.Recording())
	files := recordings(t, h.store.SavePath())
	require.Len(t, files, 1)
	assert.True(t, finalized(t, files[0]))
	assert.Equal(t, 1, h.mainPipelines()[0].Released())

	assert.ErrorIs(t, h.r.Start(), ErrClosed)
	assert.Error(t, h.r.Run(context.Background()), "Run only once")
}
