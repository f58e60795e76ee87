package camera

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
)

// producerName identifies the robot's camera producer on the GStreamer
// signalling server.
const producerName = "reachymini"

// Client consumes the robot's H264 camera stream over WebRTC, using the
// GStreamer signalling protocol on port 8443, and publishes decoded JPEG
// frames into a SharedFrame buffer.
type Client struct {
	robotIP       string
	signallingURL string

	ws     *websocket.Conn
	pc     *webrtc.PeerConnection
	wsMu   sync.Mutex
	closed atomic.Bool

	myPeerID   string
	producerID string
	sessionID  string

	decoder *Decoder
	frames  *SharedFrame
	ready   chan struct{}

	logger *slog.Logger
}

// NewClient creates a camera client publishing into frames.
func NewClient(robotIP string, frames *SharedFrame, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		robotIP:       robotIP,
		signallingURL: fmt.Sprintf("ws://%s:8443", robotIP),
		decoder:       NewDecoder(100 * time.Millisecond),
		frames:        frames,
		ready:         make(chan struct{}, 1),
		logger:        logger,
	}
}

// Connect negotiates the WebRTC session and starts receiving video.
// Blocks until the first track arrives or the timeout expires.
func (c *Client) Connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	var err error
	c.ws, _, err = dialer.Dial(c.signallingURL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect failed: %w", err)
	}

	if err := c.waitForWelcome(); err != nil {
		return fmt.Errorf("welcome failed: %w", err)
	}
	c.logger.Debug("signalling welcome", "peer_id", c.myPeerID)

	if err := c.findProducer(); err != nil {
		return fmt.Errorf("find producer failed: %w", err)
	}

	if err := c.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection failed: %w", err)
	}

	if err := c.startSession(); err != nil {
		return fmt.Errorf("start session failed: %w", err)
	}

	go c.handleSignalling()

	select {
	case <-c.ready:
		c.logger.Info("camera stream connected", "robot_ip", c.robotIP)
	case <-time.After(15 * time.Second):
		return fmt.Errorf("timeout waiting for video track")
	}
	return nil
}

func (c *Client) waitForWelcome() error {
	c.ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := c.ws.ReadMessage()
	c.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	c.myPeerID = welcome.PeerID
	return nil
}

func (c *Client) findProducer() error {
	if err := c.writeJSON(map[string]string{"type": "list"}); err != nil {
		return err
	}

	c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := c.ws.ReadMessage()
	c.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var listResp struct {
		Type      string `json:"type"`
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := json.Unmarshal(msg, &listResp); err != nil {
		return err
	}

	for _, p := range listResp.Producers {
		if p.Meta["name"] == producerName {
			c.producerID = p.ID
			return nil
		}
	}
	return fmt.Errorf("producer %q not found among %d producers", producerName, len(listResp.Producers))
}

func (c *Client) createPeerConnection() error {
	var err error
	c.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	if _, err = c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Debug("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.handleVideoTrack(track)
		}
	})

	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			c.sendICECandidate(candidate)
		}
	})

	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("webrtc state", "state", state.String())
	})

	return nil
}

func (c *Client) startSession() error {
	return c.writeJSON(map[string]string{
		"type":   "startSession",
		"peerId": c.producerID,
	})
}

func (c *Client) handleSignalling() {
	for !c.closed.Load() {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("signalling read failed", "error", err)
			}
			return
		}

		var baseMsg struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &baseMsg); err != nil {
			continue
		}

		switch baseMsg.Type {
		case "sessionStarted":
			c.sessionID = baseMsg.SessionID
		case "peer":
			c.handlePeerMessage(msg)
		case "endSession":
			return
		}
	}
}

func (c *Client) handlePeerMessage(msg []byte) {
	var peerMsg struct {
		SDP *struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		} `json:"sdp"`
		ICE *struct {
			Candidate     string  `json:"candidate"`
			SDPMid        *string `json:"sdpMid"`
			SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
		} `json:"ice"`
	}
	if err := json.Unmarshal(msg, &peerMsg); err != nil {
		return
	}

	if peerMsg.SDP != nil && peerMsg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  peerMsg.SDP.SDP,
		}
		if err := c.pc.SetRemoteDescription(offer); err != nil {
			c.logger.Warn("set remote description failed", "error", err)
			return
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Warn("create answer failed", "error", err)
			return
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			c.logger.Warn("set local description failed", "error", err)
			return
		}
		c.sendSDP(answer)
	}

	if peerMsg.ICE != nil {
		c.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     peerMsg.ICE.Candidate,
			SDPMid:        peerMsg.ICE.SDPMid,
			SDPMLineIndex: peerMsg.ICE.SDPMLineIndex,
		})
	}
}

func (c *Client) sendSDP(sdp webrtc.SessionDescription) {
	c.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": c.sessionID,
		"sdp": map[string]string{
			"type": sdp.Type.String(),
			"sdp":  sdp.SDP,
		},
	})
}

func (c *Client) sendICECandidate(candidate *webrtc.ICECandidate) {
	if c.sessionID == "" {
		return
	}
	init := candidate.ToJSON()
	c.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": c.sessionID,
		"ice": map[string]interface{}{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

func (c *Client) writeJSON(v interface{}) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws.WriteJSON(v)
}

// handleVideoTrack depacketizes the H264 RTP stream into Annex-B NAL
// units and decodes a frame every decode interval.
func (c *Client) handleVideoTrack(track *webrtc.TrackRemote) {
	select {
	case c.ready <- struct{}{}:
	default:
	}

	depacketizer := &codecs.H264Packet{}
	var nalBuffer bytes.Buffer
	lastDecode := time.Now()

	for !c.closed.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}

		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			continue // fragmented unit not yet complete
		}
		nalBuffer.Write(nal)

		if time.Since(lastDecode) > 100*time.Millisecond {
			if frame, err := c.decoder.Decode(nalBuffer.Bytes()); err == nil && frame != nil {
				c.frames.Store(frame)
			}
			nalBuffer.Reset()
			lastDecode = time.Now()
		}
	}
}

// Close tears down the WebRTC session. Safe to call more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.pc != nil {
		c.pc.Close()
	}
	if c.ws != nil {
		c.ws.Close()
	}
}
