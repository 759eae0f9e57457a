// Package remote drives the participant's browser as the audio device.
//
// The browser holds the speakers and microphone. It connects one websocket
// per run; the server sends playback and microphone commands as JSON text
// frames, and the browser answers with JSON events and binary PCM16 audio.
package remote

// ServerMessage is the JSON structure sent to the browser.
type ServerMessage struct {
	Type       string  `json:"t"`
	ID         uint64  `json:"id,omitempty"`
	Text       string  `json:"x,omitempty"`
	Rate       float64 `json:"r,omitempty"`
	Lang       string  `json:"l,omitempty"`
	Volume     float64 `json:"v,omitempty"`
	SampleRate int     `json:"sr,omitempty"`
}

// ClientMessage is the JSON structure received from the browser.
type ClientMessage struct {
	Type       string `json:"t"`
	ID         uint64 `json:"id,omitempty"`
	Error      string `json:"e,omitempty"`
	SampleRate int    `json:"sr,omitempty"`
}

// Server message types. A "clip" header is followed by one binary frame of
// PCM16 little-endian mono samples.
const (
	MsgSpeak    = "speak"
	MsgClip     = "clip"
	MsgStop     = "stop"
	MsgMicOpen  = "mic_open"
	MsgMicClose = "mic_close"
)

// Client message types.
const (
	MsgEnded          = "ended"
	MsgError          = "error"
	MsgUnsupported    = "unsupported"
	MsgMicOK          = "mic_ok"
	MsgMicDenied      = "mic_denied"
	MsgMicUnavailable = "mic_unavailable"
	MsgMicEnded       = "mic_ended"
)
