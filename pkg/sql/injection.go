package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a value that libinjection flagged.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the value that failed the check
	ParamValue  string // The value that was checked
}

// CheckParameterForInjection runs libinjection over a caller supplied value.
// Returns nil when the value looks clean.
func CheckParameterForInjection(paramName, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		ParamName:   paramName,
		ParamValue:  value,
	}
}

// CheckLabels checks label names and values. Nil values are skipped.
func CheckLabels(labels map[string]*string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range labels {
		if result := CheckParameterForInjection("label", name); result != nil {
			results = append(results, result)
		}
		if value == nil {
			continue
		}
		if result := CheckParameterForInjection(name, *value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
