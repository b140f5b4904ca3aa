package hal

// Critical runs fn with interrupts disabled. Interrupts are re-enabled on
// every exit path, including a panic in fn.
func Critical(h HAL, fn func()) {
	h.DisableInterrupts()
	defer h.EnableInterrupts()
	fn()
}
