package gateway

// Capability binary subcommands.
const (
	EnableLog          = "enable_log"
	SetDataRoot        = "set_android_data_root_path"
	SetSdcardRoot      = "set_sdcard_root_path"
	AddSusPath         = "add_sus_path"
	AddSusPathLoop     = "add_sus_path_loop"
	AddSusMap          = "add_sus_map"
	AddSusMount        = "add_sus_mount"
	AddTryUmount       = "add_try_umount"
	AddKstatStatically = "add_sus_kstat_statically"
	AddKstat           = "add_sus_kstat"
	UpdateKstat        = "update_sus_kstat"
	SetUname           = "set_uname"
	Show               = "show"
)

// Arguments of the show subcommand.
const (
	ShowEnabledFeatures = "enabled_features"
	ShowVersion         = "version"
)
