// Package id provides ID generation helpers used across the engine and gateway.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixUtterance  = "utt"
	PrefixCorrection = "corr"
	PrefixBubble     = "bub"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewUtterance() string  { return New(PrefixUtterance) }
func NewCorrection() string { return New(PrefixCorrection) }
func NewBubble() string     { return New(PrefixBubble) }
