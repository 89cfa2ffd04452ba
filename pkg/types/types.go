package types

import (
	"strings"
	"time"
)

// IdentifierType is the classification of a raw identifier string.
type IdentifierType string

const (
	IdentifierAddress  IdentifierType = "ADDRESS"
	IdentifierCIDR     IdentifierType = "CIDR"
	IdentifierDomain   IdentifierType = "DOMAIN"
	IdentifierURL      IdentifierType = "URL"
	IdentifierFileHash IdentifierType = "FILE_HASH"
	IdentifierEmail    IdentifierType = "EMAIL"
	IdentifierUnknown  IdentifierType = "UNKNOWN"
)

// Scope partitions records into internet-facing and private-network sets.
type Scope string

const (
	ScopeExternal Scope = "E"
	ScopeInternal Scope = "I"
)

// ParseScope normalizes free-form scope input. Anything that is not
// internal is treated as external.
func ParseScope(s string) Scope {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "I", "INTERNAL":
		return ScopeInternal
	default:
		return ScopeExternal
	}
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// WorkMode selects the reconciliation policy for one ingestion run.
type WorkMode string

const (
	// ModeMerge creates or updates records, never deletes.
	ModeMerge WorkMode = "merge"
	// ModeSync deletes tagged records whose lastdate predates the batch.
	ModeSync WorkMode = "sync"
	// ModeDelete removes records refreshed by a just-completed batch,
	// used to undo an errant ingestion.
	ModeDelete WorkMode = "delete"
	// ModeDeleteByTag removes every record carrying the tag.
	ModeDeleteByTag WorkMode = "deletebytag"
)

func ParseWorkMode(s string) (WorkMode, bool) {
	switch WorkMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMerge:
		return ModeMerge, true
	case ModeSync:
		return ModeSync, true
	case ModeDelete:
		return ModeDelete, true
	case ModeDeleteByTag:
		return ModeDeleteByTag, true
	}
	return ModeMerge, false
}

// TriageStatus is the tfp marker on a vulnerability finding.
type TriageStatus int

const (
	TriageUnset         TriageStatus = -1
	TriageFalsePositive TriageStatus = 0
	TriageTruePositive  TriageStatus = 1
)

const DefaultTag = "DEFAULT"

// Metadata is the ownership/scope blob attached to every record.
type Metadata struct {
	Owner string `json:"owner"`
	Scope string `json:"scope"`
	Tag   string `json:"tag"`
}

// Target is a named scope entry in the internal or external registry.
type Target struct {
	ID       string    `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Type     string    `json:"type" db:"type"`
	Scope    Scope     `json:"scope" db:"scope"`
	Tag      string    `json:"tag" db:"tag"`
	Owner    string    `json:"owner" db:"owner"`
	LastDate time.Time `json:"lastdate" db:"lastdate"`
	Metadata string    `json:"metadata" db:"metadata"`
}

// Discovery is a subdomain/asset discovery record. Uniqueness on Name is
// load-bearing: re-ingestion updates in place, never duplicates.
type Discovery struct {
	ID       string    `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Type     string    `json:"type" db:"type"`
	Tag      string    `json:"tag" db:"tag"`
	Info     string    `json:"info" db:"info"`
	Owner    string    `json:"owner" db:"owner"`
	LastDate time.Time `json:"lastdate" db:"lastdate"`
	Metadata string    `json:"metadata" db:"metadata"`
}

// HostRecord is one host with its observed services. Service sub-entries
// live in their own rows (see Service); the packed port listing strings
// are kept only as the raw import format.
type HostRecord struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	NName     string    `json:"nname" db:"nname"`
	IPv4      string    `json:"ipv4" db:"ipv4"`
	Scope     Scope     `json:"scope" db:"scope"`
	Tag       string    `json:"tag" db:"tag"`
	Ports     string    `json:"ports" db:"ports"`
	FullPorts string    `json:"full_ports" db:"full_ports"`
	SSH       string    `json:"service_ssh" db:"service_ssh"`
	RDP       string    `json:"service_rdp" db:"service_rdp"`
	FTP       string    `json:"service_ftp" db:"service_ftp"`
	Telnet    string    `json:"service_telnet" db:"service_telnet"`
	SMB       string    `json:"service_smb" db:"service_smb"`
	NucleiOut string    `json:"nuclei_http" db:"nuclei_http"`
	InfoGnmap string    `json:"info_gnmap" db:"info_gnmap"`
	Owner     string    `json:"owner" db:"owner"`
	LastDate  time.Time `json:"lastdate" db:"lastdate"`
	Metadata  string    `json:"metadata" db:"metadata"`
}

// Service is the 7-field value object parsed from the slash-delimited
// descriptor "port/state/protocol/owner/name/rpc_info/version".
type Service struct {
	Port     string `json:"port" db:"port"`
	State    string `json:"state" db:"state"`
	Protocol string `json:"protocol" db:"protocol"`
	Owner    string `json:"owner" db:"owner"`
	Name     string `json:"name" db:"name"`
	RPCInfo  string `json:"rpc_info" db:"rpc_info"`
	Version  string `json:"version" db:"version"`
}

// Equal reports structural equality across all seven fields.
func (s Service) Equal(o Service) bool {
	return s == o
}

// Encode renders the service back into its wire form. Kept for
// import/export compatibility with the grep-format listing.
func (s Service) Encode() string {
	return strings.Join([]string{s.Port, s.State, s.Protocol, s.Owner, s.Name, s.RPCInfo, s.Version}, "/")
}

// MaxURIWidth is the storage width for finding URIs. Longer values are
// truncated with the overflow preserved in FullURI.
const MaxURIWidth = 255

// VulnFinding is one detected vulnerability on a host, unique on
// (Name, Vulnerability).
type VulnFinding struct {
	ID            string       `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	Vulnerability string       `json:"vulnerability" db:"vulnerability"`
	TFP           TriageStatus `json:"tfp" db:"tfp"`
	Level         Severity     `json:"level" db:"level"`
	Scope         Scope        `json:"scope" db:"scope"`
	Engine        string       `json:"engine" db:"engine"`
	DetectionDate time.Time    `json:"detectiondate" db:"detectiondate"`
	FirstDate     time.Time    `json:"firstdate" db:"firstdate"`
	BumpDate      time.Time    `json:"bumpdate" db:"bumpdate"`
	PTime         string       `json:"ptime" db:"ptime"`
	URI           string       `json:"uri" db:"uri"`
	FullURI       string       `json:"full_uri" db:"full_uri"`
	Truncated     bool         `json:"truncated" db:"truncated"`
	Port          string       `json:"port" db:"port"`
	Protocol      string       `json:"protocol" db:"protocol"`
	Owner         string       `json:"owner" db:"owner"`
	LastDate      time.Time    `json:"lastdate" db:"lastdate"`
	Metadata      string       `json:"metadata" db:"metadata"`
}

// SetURI stores the URI, truncating to the storage width and keeping the
// full value alongside.
func (f *VulnFinding) SetURI(uri string) {
	f.FullURI = uri
	f.Truncated = len(uri) > MaxURIWidth
	if f.Truncated {
		f.URI = uri[:MaxURIWidth]
	} else {
		f.URI = uri
	}
}

// Job is a named, schedulable unit of work bound to a redteam module.
type Job struct {
	ID       string    `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Module   string    `json:"module" db:"module"`
	Regexp   string    `json:"regexp" db:"regexp_filter"`
	Exclude  string    `json:"exclude" db:"exclude_filter"`
	Config   string    `json:"config" db:"config"`
	Schedule string    `json:"schedule" db:"schedule"`
	Created  time.Time `json:"created" db:"created"`
}
