// Package audio provides raw PCM playback through the system audio device
// using the oto/v3 library. Completions are stamped with the caller's
// generation so a late finish from a stopped clip can be told apart from
// the one playback is waiting on.
package audio
