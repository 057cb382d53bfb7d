package events

// ReferenceSuccess 计算本周期所有参照项是否全部成功
// 参照集合为空时结果为 true
func ReferenceSuccess(states []*TaskState) bool {
	for _, s := range states {
		if s.IsReference() && !s.RawSuccess {
			return false
		}
	}
	return true
}

// Evaluate 根据本周期原始结果计算每个监测项的相对成功
//
// results 按名称索引，缺失的结果视为失败。
// 任一参照项失败时，监测端自身网络可疑，所有普通项本周期按成功处理；
// 参照项全部成功（或不存在参照项）时，相对成功等于原始结果。
// 返回本周期的参照结果。
func Evaluate(states []*TaskState, results map[string]bool) bool {
	for _, s := range states {
		s.RawSuccess = results[s.Name]
	}

	referenceOK := ReferenceSuccess(states)
	for _, s := range states {
		if s.IsReference() {
			s.RelativeSuccess = s.RawSuccess
			continue
		}
		s.RelativeSuccess = !referenceOK || s.RawSuccess
	}
	return referenceOK
}
