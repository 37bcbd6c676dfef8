package privacy

// scrubbedError reports a scrubbed message while keeping the original error
// reachable for errors.Is and errors.As
type scrubbedError struct {
	err error
	msg string
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

// WrapError returns err with addresses and credentials scrubbed from its
// message. Errors without anything to scrub are returned unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	clean := ScrubMessage(msg)
	if clean == msg {
		return err
	}
	return &scrubbedError{err: err, msg: clean}
}
