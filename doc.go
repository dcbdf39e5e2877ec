// Package videoreceiver receives a live H.264 video stream, decodes it into a
// destination surface and records it to disk on demand.
//
// The Receiver owns a single media graph at a time and drives it through
// Idle → Starting → Running → Stopping → Idle. A recording branch can be
// attached to the running graph and later moved into a short-lived drain
// pipeline, so the container is finalized without interrupting the live
// decode path.
//
// # Quick Start
//
//	fw, err := gstreamer.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	surf, err := surface.New(fw)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r, err := videoreceiver.New(videoreceiver.Options{
//	    Framework: fw,
//	    Surface:   surf,
//	    Settings:  config.NewStore(cfg),
//	    URI:       "rtsp://192.168.1.100:8554/live",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go r.Run(ctx)
//	_ = r.Start()
//	_ = r.StartRecording()
//
// # Endpoints
//
//   - udp://0.0.0.0:5600 - raw RTP/H.264 datagrams, started immediately
//   - tcp://10.0.0.9:5000 - MPEG-TS over a TCP connection, probed first
//   - rtsp://host:8554/path - RTSP session, probed first (default port 554)
//
// Connection-oriented endpoints are probed with a plain TCP connect until the
// server answers, because the RTSP source gives up after its first failure.
//
// # Self-healing
//
// Once per second the health monitor compares the surface's last frame time
// with the configured timeout. A stalled stream is stopped; an idle receiver
// with an endpoint is started again. Runtime graph errors tear the graph down
// and leave recovery to the same monitor.
//
// # Concurrency
//
// All state is owned by the goroutine running Run. Public methods post their
// work to it and wait for the result, so they are safe to call from any
// goroutine, but not from event handlers that run on the loop itself.
package videoreceiver
