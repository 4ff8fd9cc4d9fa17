package template

import "strings"

// reserved are identifiers that must not be rewritten into variable lookups:
// text/template keywords and builtins plus the registered filter functions.
var reserved = map[string]bool{
	"if": true, "else": true, "end": true, "range": true, "with": true,
	"template": true, "block": true, "define": true,
	"and": true, "or": true, "not": true,
	"len": true, "index": true, "slice": true,
	"printf": true, "print": true, "println": true,
	"eq": true, "ne": true, "lt": true, "le": true, "gt": true, "ge": true,
	"true": true, "false": true, "nil": true,
	"default": true, "upper": true, "lower": true, "join": true, "env": true,
	"has_succeeded": true, "has_failed": true, "has_run": true, "is_skipped": true,
}

// Rewrite translates the runbook template surface into text/template syntax:
// bare variable names become dot lookups, single-quoted strings become
// double-quoted, and call parentheses / argument commas become spaces
// (template function calls are space-separated).
func Rewrite(input string) string {
	var out strings.Builder

	rest := input

	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)

			break
		}

		out.WriteString(rest[:start])

		end := actionEnd(rest[start+2:])
		if end < 0 {
			out.WriteString(rest[start:])

			break
		}

		action := rest[start+2 : start+2+end]
		out.WriteString("{{")
		out.WriteString(rewriteAction(action))
		out.WriteString("}}")

		rest = rest[start+2+end+2:]
	}

	return out.String()
}

// actionEnd finds the closing "}}" of an action body, skipping quoted strings.
func actionEnd(s string) int {
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			return i
		}
	}

	return -1
}

func rewriteAction(action string) string {
	var out strings.Builder

	prev := byte(0) // last significant byte written

	for i := 0; i < len(action); {
		c := action[i]

		switch {
		case c == '\'':
			// Single-quoted string literal: emit double-quoted.
			out.WriteByte('"')
			i++

			for i < len(action) && action[i] != '\'' {
				if action[i] == '"' {
					out.WriteString(`\"`)
				} else {
					out.WriteByte(action[i])
				}

				i++
			}

			i++ // closing quote
			out.WriteByte('"')
			prev = '"'
		case c == '"':
			// Double-quoted string literal: copy verbatim.
			out.WriteByte(c)
			i++

			for i < len(action) && action[i] != '"' {
				if action[i] == '\\' && i+1 < len(action) {
					out.WriteByte(action[i])
					i++
				}

				out.WriteByte(action[i])
				i++
			}

			if i < len(action) {
				out.WriteByte('"')
				i++
			}

			prev = '"'
		case isIdentStart(c):
			j := i
			for j < len(action) && isIdentPart(action[j]) {
				j++
			}

			word := action[i:j]
			if !reserved[word] && prev != '.' && prev != '$' {
				out.WriteByte('.')
			}

			out.WriteString(word)
			prev = word[len(word)-1]
			i = j
		case c == '(' || c == ')' || c == ',':
			out.WriteByte(' ')
			i++
		default:
			out.WriteByte(c)

			if c != ' ' && c != '\t' {
				prev = c
			}

			i++
		}
	}

	return out.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
