// Package compiler turns raw tag text into typed values and, for listener
// and module tags, into compiled script bodies.
//
// Tag text is classified by its first-matching prefix:
//
//	🧬  literal/formula, evaluated as a CUE expression
//	📝  plain string
//	🔢  number
//	📅  date/time with an optional IANA zone suffix
//	➡️  2D or 3D vector
//	🔁  rotation quaternion
//	🔗  bot link, kept verbatim
//	@   listener script
//	📄  module-only script
//
// Text without a prefix is a string, except whole numbers, decimals,
// true/false and infinity/-infinity, which convert to typed values.
//
// Compilation never fails: malformed text degrades to the raw string (or a
// formatted error string for literals) so a bad tag never breaks the bot
// that carries it.
package compiler
