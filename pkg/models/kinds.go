package models

// Source tags the normalizer dispatches on.
const (
	SourceNginx     = "nginx"
	SourceSSH       = "ssh"
	SourceFirewall  = "firewall"
	SourceRawIngest = "raw_ingest"
)

// Event types produced by the normalizer.
const (
	EventTypeSSHLoginFailed  = "ssh_login_failed"
	EventTypeSSHLoginSuccess = "ssh_login_success"
	EventTypeFirewallBlock   = "firewall_block"
)
