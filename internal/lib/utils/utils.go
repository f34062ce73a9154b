// Package utils contains small helper functions used across the
// project.
package utils

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
)

// codeAlphabet deliberately contains only lowercase letters so codes
// survive case-insensitive channels (hand-typed URLs, MTurk metadata).
const codeAlphabet = "abcdefghijklmnopqrstuvwxyz"

// CodeLength is the length of public join/access codes.
const CodeLength = 8

// RandomCode returns a random lowercase code of CodeLength characters,
// used for sequence, participant and treatment codes.
func RandomCode() string {
	return RandomCodeN(CodeLength)
}

// RandomCodeN returns a random lowercase code of n characters.
func RandomCodeN(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; nothing sensible to do but stop.
		panic(fmt.Sprintf("utils: reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// PrintJSON pretty-prints any Go value as indented JSON to stdout.
// Debug helper.
func PrintJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		fmt.Println("Error marshalling the JSON:", err)
		return
	}
	fmt.Println("JSON:", string(out))
}
