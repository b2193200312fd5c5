package domain

// Store key layout.
//
//	session:{device}:current           refresh id currently valid for the device
//	session:{device}:jti:{refreshId}   Record hash
//	session:{device}:jtis              set of refresh ids issued for the device
//	user:{user}:devices                set of device ids with an active or recent session

// CurrentKey is the device session pointer key.
func CurrentKey(deviceID string) string {
	return "session:" + deviceID + ":current"
}

// RecordKey is the refresh credential record key.
func RecordKey(deviceID, refreshID string) string {
	return "session:" + deviceID + ":jti:" + refreshID
}

// CredentialSetKey is the device credential set key.
func CredentialSetKey(deviceID string) string {
	return "session:" + deviceID + ":jtis"
}

// UserDevicesKey is the user device set key.
func UserDevicesKey(userID string) string {
	return "user:" + userID + ":devices"
}

// RecordKeys maps refresh ids of one device to their record keys.
func RecordKeys(deviceID string, refreshIDs []string) []string {
	out := make([]string, 0, len(refreshIDs))
	for _, id := range refreshIDs {
		out = append(out, RecordKey(deviceID, id))
	}
	return out
}
