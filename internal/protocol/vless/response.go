package vless

// ResponseLen 是握手成功后应答的长度
const ResponseLen = 2

// BuildResponse 构造握手应答：[version, 0x00]，没有 addon。
func BuildResponse(version byte) []byte {
	return []byte{version, 0x00}
}
