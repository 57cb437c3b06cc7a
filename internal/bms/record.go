package bms

const CellCount = 16

// Record is decoded battery state for one publish cycle.
// JSON field order is part of outbound document format.
type Record struct {
	BatteryID               string            `json:"battery_id"`
	BatteryNumber           uint8             `json:"battery_number"`
	BatteriesInSystem       uint8             `json:"batteries_in_system"`
	BatterySOC              uint8             `json:"battery_soc"`
	BatteryVoltage          float64           `json:"battery_voltage"`
	BatteryCurrent          float64           `json:"battery_current"`
	SystemAverageVoltage    float64           `json:"system_average_voltage"`
	PreVolt                 float64           `json:"pre_volt"`
	InsulationResistance    uint16            `json:"insulation_resistance"`
	SoftwareVersion         uint16            `json:"software_version"`
	HardwareVersion         string            `json:"hardware_version"`
	LifetimeDischargeEnergy uint32            `json:"lifetime_discharge_energy"`
	CellVoltages            [CellCount]uint16 `json:"cell_voltages"`
	Time                    int64             `json:"time"`

	Node  uint8   `json:"-"`
	Fresh float64 `json:"-"`
}
