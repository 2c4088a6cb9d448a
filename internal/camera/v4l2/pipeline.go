package v4l2

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// capturePipeline wraps the GStreamer capture graph:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter(RGB,WxH,fps) → appsink
type capturePipeline struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
}

func newCapturePipeline(device string, width, height, fps int) (*capturePipeline, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create capture pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", device)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rawCaps(width, height, fps)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 4)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, scaler, videorate, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link capture pipeline: %w", err)
	}

	return &capturePipeline{pipeline: pipeline, sink: appsink}, nil
}

// encodePipeline wraps the H.264 encode graph:
//
//	appsrc(RGB) → videoconvert → x264enc(zerolatency) → h264parse → capsfilter(byte-stream) → appsink
type encodePipeline struct {
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink
}

func newEncodePipeline(width, height, fps, bitrateKbps int) (*encodePipeline, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create encode pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsrc: %w", err)
	}
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("format", 3) // GST_FORMAT_TIME
	appsrc.SetProperty("do-timestamp", true)
	appsrc.SetCaps(gst.NewCapsFromString(rawCaps(width, height, fps)))

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	encoder, err := gst.NewElement("x264enc")
	if err != nil {
		return nil, fmt.Errorf("failed to create x264enc: %w", err)
	}
	encoder.SetProperty("tune", 0x00000004) // zerolatency
	encoder.SetProperty("bitrate", uint(bitrateKbps))
	encoder.SetProperty("key-int-max", uint(fps*2))

	parser, err := gst.NewElement("h264parse")
	if err != nil {
		return nil, fmt.Errorf("failed to create h264parse: %w", err)
	}
	parser.SetProperty("config-interval", -1) // SPS/PPS before every keyframe

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-h264,stream-format=byte-stream,alignment=au"))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create encode appsink: %w", err)
	}
	appsink.SetProperty("sync", false)

	pipeline.AddMany(appsrc.Element, converter, encoder, parser, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(appsrc.Element, converter, encoder, parser, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link encode pipeline: %w", err)
	}

	return &encodePipeline{pipeline: pipeline, src: appsrc, sink: appsink}, nil
}

func rawCaps(width, height, fps int) string {
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		width, height, fps)
}

func destroyPipeline(p *gst.Pipeline) error {
	if p == nil {
		return nil
	}
	if err := p.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
