// Package voice decodes the audio sub-protocol carried inside the control
// stream.
//
// A voice packet is a header byte (codec and target), the sender's session as
// a self-describing varint, a sequence varint and the codec frames. Frames of
// the CELT and Speex codecs are each prefixed with a single length byte, Opus
// uses a varint header. Data after the last frame (positional audio) is
// passed through untouched.
package voice
