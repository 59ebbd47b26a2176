// Package platform isolates OS-specific queries behind build tags.
package platform

// fallbackMemory is assumed when the total cannot be determined.
const fallbackMemory = 4 << 30
