// Package synth turns sentence text into PCM audio. The edge client speaks
// the consumer read-aloud websocket protocol, the memo caches results on
// disk, and failures carry a kind the retry policy can branch on.
package synth
