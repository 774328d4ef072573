package dmarc

import (
	"encoding/xml"
	"fmt"
	"time"
)

// IPResolver looks up the hostname for an IP address. ok is false when
// the address could not be resolved.
type IPResolver interface {
	Resolve(ip string) (hostname string, ok bool)
}

// Report is one decoded aggregate report. The filename of the archive it
// came from doubles as the deduplication key in the store.
type Report struct {
	ReportID  string
	Receiver  string
	Filename  string
	StartDate time.Time
	EndDate   time.Time
	Records   []Record
}

// Record is one row of an aggregate report. SPFPass is nil when the
// reporter did not evaluate SPF. DKIMPass is never nil: reports without
// a DKIM policy result count as a DKIM failure.
type Record struct {
	SourceIP       string
	Host           *string
	Country        *string
	Disposition    string
	SPFPass        *bool
	DKIMPass       bool
	Reason         *string
	HeaderFrom     *string
	EnvelopeFrom   *string
	Count          int
	SPFResults     []SPFResult
	DKIMSignatures []DKIMSignature
}

type SPFResult struct {
	Domain string
	Result string
}

type DKIMSignature struct {
	Domain      string
	Result      string
	Selector    *string
	HumanResult *string
}

// dkim auth results with this domain carry no usable signature
const notEvaluatedDomain = "not.evaluated"

var validDispositions = map[string]struct{}{
	"none":       {},
	"quarantine": {},
	"reject":     {},
}

// DecodeReport parses the xml payload of a DMARC report into a Report.
// Source hostnames are filled in through the resolver. Reports are
// machine generated, so a missing required field or an unknown policy
// value is returned as a SchemaError instead of being papered over.
func DecodeReport(content []byte, filename string, resolver IPResolver) (*Report, error) {
	var doc xmlReport
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("error on xml unmarshal: %w", err)
	}

	report := &Report{
		ReportID:  doc.ReportMetadata.ReportID,
		Receiver:  doc.ReportMetadata.OrgName,
		Filename:  filename,
		StartDate: time.Unix(doc.ReportMetadata.DateRange.Begin, 0).UTC(),
		EndDate:   time.Unix(doc.ReportMetadata.DateRange.End, 0).UTC(),
	}

	for i, rec := range doc.Records {
		record, err := decodeRecord(rec, resolver)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		report.Records = append(report.Records, *record)
	}

	return report, nil
}

func decodeRecord(rec xmlRecord, resolver IPResolver) (*Record, error) {
	row := rec.Row
	if row.SourceIP == nil {
		return nil, missingField("row/source_ip")
	}
	if row.Count == nil {
		return nil, missingField("row/count")
	}
	policy := row.PolicyEvaluated
	if policy.Disposition == nil {
		return nil, missingField("row/policy_evaluated/disposition")
	}
	if _, ok := validDispositions[*policy.Disposition]; !ok {
		return nil, invalidValue("row/policy_evaluated/disposition", *policy.Disposition)
	}

	record := &Record{
		SourceIP:     *row.SourceIP,
		Count:        *row.Count,
		Disposition:  *policy.Disposition,
		HeaderFrom:   rec.Identifiers.HeaderFrom,
		EnvelopeFrom: rec.Identifiers.EnvelopeFrom,
	}

	if host, ok := resolver.Resolve(record.SourceIP); ok {
		record.Host = &host
	}

	if policy.Spf != nil {
		pass, err := policyResult("row/policy_evaluated/spf", *policy.Spf)
		if err != nil {
			return nil, err
		}
		record.SPFPass = &pass
	}

	// sanitise the data: a report without a dkim policy result counts
	// as a dkim failure
	if policy.Dkim != nil {
		pass, err := policyResult("row/policy_evaluated/dkim", *policy.Dkim)
		if err != nil {
			return nil, err
		}
		record.DKIMPass = pass
	}

	if len(policy.Reason) > 0 && policy.Reason[0].Type != nil {
		record.Reason = policy.Reason[0].Type
	}

	for _, spf := range rec.AuthResults.Spf {
		record.SPFResults = append(record.SPFResults, SPFResult{
			Domain: spf.Domain,
			Result: spf.Result,
		})
	}

	for _, dkim := range rec.AuthResults.Dkim {
		if (dkim.Result == "none" || dkim.Result == "neutral") && dkim.Domain == notEvaluatedDomain {
			continue
		}
		record.DKIMSignatures = append(record.DKIMSignatures, DKIMSignature{
			Domain:      dkim.Domain,
			Result:      dkim.Result,
			Selector:    dkim.Selector,
			HumanResult: dkim.HumanResult,
		})
	}

	return record, nil
}

func policyResult(field, value string) (bool, error) {
	switch value {
	case "pass":
		return true, nil
	case "fail":
		return false, nil
	default:
		return false, invalidValue(field, value)
	}
}
