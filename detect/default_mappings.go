package detect

// defaultMappings maps ECS paths onto the raw Windows event fields produced
// by winlogbeat without ECS processing. ECS paths the raw events already
// carry map to themselves.
var defaultMappings = []MappingEntry{
	// User
	{"user.name", []string{"winlog.event_data.TargetUserName", "winlog.event_data.SubjectUserName", "winlog.user.name"}},
	{"user.domain", []string{"winlog.event_data.TargetDomainName", "winlog.event_data.SubjectDomainName", "winlog.user.domain"}},
	{"user.id", []string{"winlog.event_data.TargetUserSid", "winlog.event_data.SubjectUserSid"}},
	{"user.target.name", []string{"winlog.event_data.TargetUserName"}},
	{"user.target.domain", []string{"winlog.event_data.TargetDomainName"}},
	{"user.target.id", []string{"winlog.event_data.TargetUserSid"}},
	{"user.subject.name", []string{"winlog.event_data.SubjectUserName"}},
	{"user.subject.domain", []string{"winlog.event_data.SubjectDomainName"}},
	{"user.subject.id", []string{"winlog.event_data.SubjectUserSid"}},

	// Group
	{"group.name", []string{"winlog.event_data.Group", "winlog.event_data.MemberName", "winlog.event_data.TargetUserName"}},
	{"group.id", []string{"winlog.event_data.MemberSid"}},

	// Source
	{"source.ip", []string{"winlog.event_data.IpAddress", "winlog.event_data.SourceAddress"}},
	{"source.address", []string{"winlog.event_data.WorkstationName", "winlog.event_data.Workstation"}},
	{"source.domain", []string{"winlog.event_data.SourceNetworkAddress"}},
	{"source.port", []string{"winlog.event_data.SourcePort"}},

	// Process
	{"process.name", []string{"winlog.event_data.NewProcessName", "winlog.event_data.ProcessName", "winlog.event_data.Image"}},
	{"process.executable", []string{"winlog.event_data.NewProcessName", "winlog.event_data.ProcessName"}},
	{"process.command_line", []string{"winlog.event_data.CommandLine"}},
	{"process.parent.name", []string{"winlog.event_data.ParentProcessName", "winlog.event_data.ParentImage"}},
	{"process.parent.command_line", []string{"winlog.event_data.ParentCommandLine"}},
	{"process.pid", []string{"winlog.event_data.ProcessId", "winlog.event_data.NewProcessId"}},
	{"process.parent.pid", []string{"winlog.event_data.ParentProcessId"}},
	{"process.target.name", []string{"winlog.event_data.TargetImage"}},
	{"process.working_directory", []string{"winlog.event_data.CurrentDirectory"}},

	// Event
	{"event.category", []string{"event.category"}},
	{"event.outcome", []string{"event.outcome"}},
	{"event.action", []string{"event.action"}},
	{"event.code", []string{"event.code"}},

	// Logon
	{"winlog.logon.type", []string{"winlog.event_data.LogonType"}},
	{"winlog.logon.authentication_package", []string{"winlog.event_data.AuthenticationPackageName"}},
	{"winlog.logon.logon_process", []string{"winlog.event_data.LogonProcessName"}},
	{"winlog.logon.id", []string{"winlog.event_data.TargetLogonId", "winlog.event_data.LogonId"}},

	// File
	{"file.path", []string{"winlog.event_data.TargetFilename", "winlog.event_data.FileName"}},
	{"file.name", []string{"winlog.event_data.FileName"}},
	{"file.directory", []string{"winlog.event_data.TargetFilename"}},

	// Registry
	{"registry.path", []string{"winlog.event_data.TargetObject"}},
	{"registry.key", []string{"winlog.event_data.TargetObject"}},
	{"registry.value", []string{"winlog.event_data.Details"}},

	// Network
	{"destination.ip", []string{"winlog.event_data.DestAddress", "winlog.event_data.DestinationIp"}},
	{"destination.port", []string{"winlog.event_data.DestPort", "winlog.event_data.DestinationPort"}},
	{"network.protocol", []string{"winlog.event_data.Protocol"}},

	// Service
	{"service.name", []string{"winlog.event_data.ServiceName"}},
	{"service.type", []string{"winlog.event_data.ServiceType"}},

	// DNS
	{"dns.question.name", []string{"winlog.event_data.QueryName"}},
	{"dns.question.type", []string{"winlog.event_data.QueryType"}},
}

// DefaultMappingTable returns the built-in ECS to Windows event table.
func DefaultMappingTable() *MappingTable {
	t, err := NewMappingTable(defaultMappings)
	if err != nil {
		panic("detect: invalid built-in field mappings: " + err.Error())
	}
	return t
}
