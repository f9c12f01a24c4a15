package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ IdentityStore        = (*MemoryIdentityStore)(nil)
	_ Repositories         = (*memoryTx)(nil)
	_ UserRepository       = (*memoryRepositories)(nil)
	_ GroupRepository      = (*memoryRepositories)(nil)
	_ MembershipRepository = (*memoryRepositories)(nil)
	_ MetricsRecorder      = NopMetricsRecorder{}
	_ ConfigProvider       = (*CfgxConfigProvider)(nil)
	_ OptionsResolver      = GoOptionsResolver{}
	_ RawConfigLoader      = StaticRawConfigLoader{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
