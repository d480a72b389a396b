package couchbase

// CasSetter is implemented by documents that want the CAS value of the
// revision they were read at.
type CasSetter interface {
	SetCas(cas uint64)
}

// Cas can be embedded in document types to satisfy CasSetter.
type Cas struct {
	c uint64
}

// GetCas returns the CAS value of the revision that was read.
func (c Cas) GetCas() uint64 {
	return c.c
}

// SetCas updates the CAS value.
func (c *Cas) SetCas(cas uint64) {
	c.c = cas
}
