package transport

import (
	"errors"
	"io"
	"log"

	"github.com/pion/webrtc/v4"

	"PongVoiceBridge/internal/media"
)

// PumpRemoteAudio 把远端音轨的 RTP 负载写入播放出口，直到音轨结束
func PumpRemoteAudio(track *webrtc.TrackRemote, sink media.PlaybackSink) {
	log.Printf("[transport] remote track started: kind=%s codec=%s", track.Kind(), track.Codec().MimeType)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[transport] remote track stopped: %v", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		if err := sink.WriteRemote(pkt.Payload); err != nil {
			log.Printf("[transport] playback write failed: %v", err)
		}
	}
}
