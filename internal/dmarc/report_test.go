package dmarc

import (
	"errors"
	"fmt"
	"testing"
)

type stubResolver map[string]string

func (s stubResolver) Resolve(ip string) (string, bool) {
	host, ok := s[ip]
	return host, ok
}

func recordXML(policyEvaluated, authResults string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" ?>
<feedback>
  <report_metadata>
    <org_name>google.com</org_name>
    <email>noreply-dmarc-support@google.com</email>
    <report_id>12598866915817748661</report_id>
    <date_range>
      <begin>1538092800</begin>
      <end>1538179199</end>
    </date_range>
  </report_metadata>
  <policy_published>
    <domain>example.com</domain>
    <adkim>r</adkim>
    <aspf>r</aspf>
    <p>none</p>
    <sp>none</sp>
    <pct>100</pct>
  </policy_published>
  <record>
    <row>
      <source_ip>192.0.2.1</source_ip>
      <count>5</count>
      <policy_evaluated>
        %s
      </policy_evaluated>
    </row>
    <identifiers>
      <header_from>example.com</header_from>
      <envelope_from>example.com</envelope_from>
    </identifiers>
    <auth_results>
      %s
    </auth_results>
  </record>
</feedback>`, policyEvaluated, authResults))
}

func TestDecodeReport(t *testing.T) {
	t.Parallel()

	content := recordXML(
		`<disposition>none</disposition><dkim>pass</dkim><spf>pass</spf>`,
		`<dkim><domain>example.com</domain><result>pass</result><selector>sel1</selector></dkim>
		 <spf><domain>example.com</domain><result>pass</result></spf>`,
	)
	resolver := stubResolver{"192.0.2.1": "mail.example.com"}

	report, err := DecodeReport(content, "report.zip", resolver)
	if err != nil {
		t.Fatalf("got error on decode: %v", err)
	}
	if report.ReportID != "12598866915817748661" {
		t.Errorf("wrong report id %q", report.ReportID)
	}
	if report.Receiver != "google.com" {
		t.Errorf("wrong receiver %q", report.Receiver)
	}
	if report.Filename != "report.zip" {
		t.Errorf("wrong filename %q", report.Filename)
	}
	if report.StartDate.Unix() != 1538092800 || report.EndDate.Unix() != 1538179199 {
		t.Errorf("wrong date range %v - %v", report.StartDate, report.EndDate)
	}
	if len(report.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(report.Records))
	}

	record := report.Records[0]
	if record.SourceIP != "192.0.2.1" {
		t.Errorf("wrong source ip %q", record.SourceIP)
	}
	if record.Host == nil || *record.Host != "mail.example.com" {
		t.Errorf("wrong host %v", record.Host)
	}
	if record.Count != 5 {
		t.Errorf("wrong count %d", record.Count)
	}
	if record.Disposition != "none" {
		t.Errorf("wrong disposition %q", record.Disposition)
	}
	if record.SPFPass == nil || !*record.SPFPass {
		t.Errorf("expected spf pass, got %v", record.SPFPass)
	}
	if !record.DKIMPass {
		t.Error("expected dkim pass")
	}
	if record.HeaderFrom == nil || *record.HeaderFrom != "example.com" {
		t.Errorf("wrong header_from %v", record.HeaderFrom)
	}
	if len(record.SPFResults) != 1 || record.SPFResults[0].Domain != "example.com" {
		t.Errorf("wrong spf results %v", record.SPFResults)
	}
	if len(record.DKIMSignatures) != 1 || record.DKIMSignatures[0].Selector == nil || *record.DKIMSignatures[0].Selector != "sel1" {
		t.Errorf("wrong dkim signatures %v", record.DKIMSignatures)
	}
}

func TestDecodeReportDKIMAbsentMeansFail(t *testing.T) {
	t.Parallel()

	content := recordXML(`<disposition>none</disposition><spf>pass</spf>`, ``)
	report, err := DecodeReport(content, "report.zip", stubResolver{})
	if err != nil {
		t.Fatalf("got error on decode: %v", err)
	}
	if report.Records[0].DKIMPass {
		t.Error("absent dkim policy result must count as failed")
	}
}

func TestDecodeReportSPFAbsentMeansUnknown(t *testing.T) {
	t.Parallel()

	content := recordXML(`<disposition>none</disposition><dkim>fail</dkim>`, ``)
	report, err := DecodeReport(content, "report.zip", stubResolver{})
	if err != nil {
		t.Fatalf("got error on decode: %v", err)
	}
	if report.Records[0].SPFPass != nil {
		t.Errorf("absent spf policy result must stay unknown, got %v", *report.Records[0].SPFPass)
	}
}

func TestDecodeReportInvalidPolicyValue(t *testing.T) {
	t.Parallel()

	content := recordXML(`<disposition>none</disposition><dkim>temperror</dkim>`, ``)
	_, err := DecodeReport(content, "report.zip", stubResolver{})
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected a schema error, got %v", err)
	}
	if schemaErr.Kind != InvalidPolicyValue {
		t.Errorf("wrong error kind %q", schemaErr.Kind)
	}
}

func TestDecodeReportMissingSourceIP(t *testing.T) {
	t.Parallel()

	content := []byte(`<feedback>
  <report_metadata><org_name>x</org_name><report_id>1</report_id>
    <date_range><begin>0</begin><end>0</end></date_range></report_metadata>
  <record>
    <row><count>1</count><policy_evaluated><disposition>none</disposition></policy_evaluated></row>
  </record>
</feedback>`)
	_, err := DecodeReport(content, "report.zip", stubResolver{})
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected a schema error, got %v", err)
	}
	if schemaErr.Kind != MissingRequiredField {
		t.Errorf("wrong error kind %q", schemaErr.Kind)
	}
}

func TestDecodeReportReason(t *testing.T) {
	t.Parallel()

	content := recordXML(`<disposition>quarantine</disposition>
		<reason><type>forwarded</type><comment>looks forwarded</comment></reason>`, ``)
	report, err := DecodeReport(content, "report.zip", stubResolver{})
	if err != nil {
		t.Fatalf("got error on decode: %v", err)
	}
	if report.Records[0].Reason == nil || *report.Records[0].Reason != "forwarded" {
		t.Errorf("wrong reason %v", report.Records[0].Reason)
	}
}

func TestDKIMSignatureFilter(t *testing.T) {
	t.Parallel()

	content := recordXML(
		`<disposition>none</disposition>`,
		`<dkim><domain>not.evaluated</domain><result>none</result></dkim>
		 <dkim><domain>not.evaluated</domain><result>neutral</result></dkim>
		 <dkim><domain>real.example.com</domain><result>none</result></dkim>
		 <dkim><domain>example.com</domain><result>pass</result></dkim>`,
	)
	report, err := DecodeReport(content, "report.zip", stubResolver{})
	if err != nil {
		t.Fatalf("got error on decode: %v", err)
	}
	sigs := report.Records[0].DKIMSignatures
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures to survive the filter, got %d: %v", len(sigs), sigs)
	}
	if sigs[0].Domain != "real.example.com" || sigs[1].Domain != "example.com" {
		t.Errorf("wrong signatures kept: %v", sigs)
	}
}
