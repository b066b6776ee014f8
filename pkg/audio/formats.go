package audio

// Format constants shared by the capture, codec and playback layers.
const (
	// Microphone side.
	InputSampleRate = 16_000 // Hz
	InputBlockSize  = 4096   // samples per capture frame (256 ms)

	// Remote service output.
	OutputSampleRate = 24_000 // Hz

	Channels       = 1
	BytesPerSample = 2 // 16-bit PCM
)

// pcmMIMEPrefix is the mime type used for raw PCM payloads on the wire. The
// sample rate is appended as a parameter, e.g. "audio/pcm;rate=16000".
const pcmMIMEPrefix = "audio/pcm"
