package migrator

import "fmt"

// renderType renders a column's SQL type token per §4.5.5: upper-case
// keyword followed by parenthesized modifiers where applicable.
// Computed columns carry none of this — callers render "AS <expr>"
// instead (see columnDefSQL in plan.go).
func renderType(c *Column) string {
	switch c.SQLType {
	case TypeDecimal, TypeNumeric:
		p := 18
		if c.Precision != nil {
			p = *c.Precision
		}
		return fmt.Sprintf("%s(%d)", c.SQLType, p)
	case TypeVarChar, TypeNVarChar, TypeChar, TypeNChar, TypeVarBinary, TypeBinary:
		l := 1
		if c.Length != nil {
			l = *c.Length
		}
		return fmt.Sprintf("%s(%s)", c.SQLType, renderLength(l))
	case TypeDateTime2, TypeTime, TypeDateTimeOffset:
		if c.Length != nil {
			return fmt.Sprintf("%s(%d)", c.SQLType, *c.Length)
		}
		return string(c.SQLType)
	default:
		return string(c.SQLType)
	}
}

func renderLength(l int) string {
	if l == -1 {
		return "MAX"
	}
	return fmt.Sprintf("%d", l)
}

// renderIdentity renders "IDENTITY(seed,increment)", defaulting to
// (1,1) when unknown, per §4.5.5.
func renderIdentity(c *Column) string {
	seed := int64(1)
	inc := int64(1)
	if c.IdentitySeed != nil {
		seed = *c.IdentitySeed
	}
	if c.IdentityIncrement != nil {
		inc = *c.IdentityIncrement
	}
	return fmt.Sprintf("IDENTITY(%d,%d)", seed, inc)
}

// zeroValueSentinel returns a type-specific "empty" literal used when the
// planner must synthesize a DEFAULT for a NOT NULL ADD COLUMN on a table
// that may contain data (§4.5.1 U8 step 6) and no explicit default was
// given.
func zeroValueSentinel(c *Column) string {
	switch c.SQLType {
	case TypeBit, TypeTinyInt, TypeSmallInt, TypeInt, TypeBigInt,
		TypeDecimal, TypeNumeric, TypeReal, TypeFloat, TypeMoney, TypeSmallMoney:
		return "0"
	case TypeChar, TypeVarChar, TypeText:
		return "''"
	case TypeNChar, TypeNVarChar, TypeNText:
		return "N''"
	case TypeBinary, TypeVarBinary, TypeImage:
		return "0x00"
	case TypeDate, TypeDateTime, TypeDateTime2, TypeSmallDateTime:
		return "CAST('1900-01-01' AS DATE)"
	case TypeDateTimeOffset:
		return "CAST('1900-01-01' AS DATETIMEOFFSET)"
	case TypeTime:
		return "CAST('00:00:00' AS TIME)"
	case TypeUniqueIdentifier:
		return "NEWID()"
	case TypeXML:
		return "''"
	default:
		return "0"
	}
}

// isLegacyLOB reports whether t is one of the legacy large-object types
// whose boundary crossing always forces a rebuild (§4.4 rule 1).
func isLegacyLOB(t SQLType) bool {
	return t == TypeText || t == TypeNText || t == TypeImage
}
