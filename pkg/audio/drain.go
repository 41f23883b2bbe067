package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to discard the tail of a closed streaming channel, such as
// adapter events buffered after a session's pumps have exited.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
