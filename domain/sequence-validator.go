package domain

import "errors"

var (
	// This kind of error has to be counted, after the limit is reached the book should be recreated
	ErrUpdateOutOfSequence = errors.New("book update is out of sequence")
	// should just skip them
	ErrUpdateOutdated = errors.New("book update is outdated")
)

type SequenceValidator interface {
	// if return nil, the update is valid
	IsValidUpd(sequence int64, lastSequence int64) error
	IsErrOutOfSequence(err error) bool
	IsErrOutdated(err error) bool
}

// ContiguousSequenceValidator expects every update to carry the next
// sequence number. Venues that send no sequence (0) are not validated.
type ContiguousSequenceValidator struct{}

func (v *ContiguousSequenceValidator) IsValidUpd(sequence int64, lastSequence int64) error {
	if sequence == 0 || lastSequence == 0 {
		return nil
	}

	// Drop any event where sequence is <= last applied sequence
	if sequence <= lastSequence {
		return ErrUpdateOutdated
	}

	if sequence > lastSequence+1 {
		return ErrUpdateOutOfSequence
	}

	return nil
}

func (v *ContiguousSequenceValidator) IsErrOutOfSequence(err error) bool {
	return errors.Is(err, ErrUpdateOutOfSequence)
}

func (v *ContiguousSequenceValidator) IsErrOutdated(err error) bool {
	return errors.Is(err, ErrUpdateOutdated)
}
