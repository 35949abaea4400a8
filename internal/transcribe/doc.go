// Package transcribe implements the transcription stage: audio extraction,
// speech-to-text, transcript scrubbing, and the aggressive cleanup that
// keeps the pipeline under its disk ceiling.
//
// Cleanup deletes the episode's audio and video the moment the transcript
// is safely on disk, marking each deletion in the queue so preserved size
// fields remain the only record of the artifacts. A deletion failure is
// logged and left for operators; it never fails the stage, because the
// transcript already exists.
package transcribe
