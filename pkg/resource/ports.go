package resource

// PortUsage is one target registered on many ports of a target group.
type PortUsage struct {
	TargetGroup   string  `json:"target_group_name" yaml:"target_group_name"`
	TargetGroupID string  `json:"target_group_id" yaml:"target_group_id"`
	Region        string  `json:"region" yaml:"region"`
	TargetID      string  `json:"instance_id" yaml:"instance_id"`
	Ports         []int32 `json:"ports" yaml:"ports"`
}

// NumPorts returns the number of distinct ports.
func (u PortUsage) NumPorts() int {
	return len(u.Ports)
}
