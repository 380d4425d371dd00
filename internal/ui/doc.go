// Package ui renders jump's terminal output: per-hop connection phases,
// chain tables and the interactive password prompt.
//
// Styling uses Lip Gloss with ANSI colors:
//
//	ColorSuccess   (green)  - Hop connected, check passed
//	ColorError     (red)    - Failures
//	ColorWarning   (yellow) - Hops skipped after a failure
//	ColorMuted     (gray)   - Timings and detail lines
//	ColorSecondary (blue)   - In-progress indicators
//
// Lip Gloss drops colors on its own when output isn't a terminal or NO_COLOR
// is set.
package ui
