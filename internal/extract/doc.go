// Package extract turns fetched documents into structured job fields.
//
// Every field is produced by an ordered chain of Strategy functions. A chain
// returns the first non-empty, whitespace-cleaned value; markup returned by a
// structural strategy is sanitized before it is accepted. Link extraction for
// listing pages follows the same first-success-wins shape.
package extract
