package privacy

import "regexp"

// builtinPatterns is the ordered built-in rule list. Groups below are
// comments only; the set is matched as one flat sequence.
var builtinPatterns = []string{
	// Universal
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,                                          // email
	`\b(?:\+?1[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`,                                 // phone
	`\+\d{1,3}[\s.-]?\d{2,4}[\s.-]?\d{2,4}[\s.-]?\d{2,4}\b`,                                   // international phone
	`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`,                   // IPv4
	`\b(?:[0-9A-Fa-f]{1,4}:){7}[0-9A-Fa-f]{1,4}\b|\b(?:[0-9A-Fa-f]{1,4}:){1,6}:[0-9A-Fa-f]{1,4}\b`, // IPv6
	`\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`,                               // date

	// United States
	`\b\d{3}-\d{2}-\d{4}\b`,  // SSN
	`\b\d{9}\b`,              // passport, shared with the UK
	`\b[A-Z]\d{7,12}\b`,      // driver's license
	`\b\d{5}(?:-\d{4})?\b`,   // ZIP code

	// United Kingdom
	`\b[A-CEGHJ-PR-TW-Z]{2}\s?\d{2}\s?\d{2}\s?\d{2}\s?[A-D]\b`, // National Insurance number
	`\b[A-Z9]{5}\d{6}[A-Z9]{2}\d[A-Z]{2}\b`,                    // driving licence
	`\b[A-Z]{1,2}\d[A-Z\d]?\s?\d[A-Z]{2}\b`,                    // postcode

	// France
	`\b[12]\s?\d{2}\s?(?:0[1-9]|1[0-2])\s?(?:\d{2}|2[AB])\s?\d{3}\s?\d{3}\s?\d{2}\b`, // NIR
	`\b\d{2}[A-Z]{2}\d{5}\b`, // passport
	`\b\d{12}\b`,             // driving licence
	`\b\d{5}\b`,              // postal code

	// Canada
	`\b\d{3}[\s-]?\d{3}[\s-]?\d{3}\b`,         // SIN
	`\b[A-Z]{2}\d{6}\b`,                       // passport
	`\b[A-Z]\d{4}-?\d{5}-?\d{5}\b`,            // driver's licence
	`\b[A-Za-z]\d[A-Za-z][\s-]?\d[A-Za-z]\d\b`, // postal code

	// Financial
	`\b4\d{3}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b|\b4\d{12}\b`,        // Visa
	`\b5[1-5]\d{2}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`,               // MasterCard
	`\b[A-Z]{2}\d{2}(?:\s?[A-Z0-9]{4}){2,7}(?:\s?[A-Z0-9]{1,4})?\b`, // IBAN

	// Heuristics
	`\b[A-Z][a-z]+\s[A-Z][a-z]+\b`, // name
	`\b\d+\s\w+\s\w+\b`,            // street address
}

// GetDefaultRules compiles the built-in rules in order
func GetDefaultRules() []Rule {
	rules := make([]Rule, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		rules = append(rules, Rule{Pattern: regexp.MustCompile(p)})
	}
	return rules
}
