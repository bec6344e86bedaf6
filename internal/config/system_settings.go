package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "FFLOW_DATABASE_TYPE"
const DATABASE_URL = "FFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "FFLOW_DATABASE_SQLLITE_FILE_NAME"
const SERVER_WEB_PORT = "FFLOW_SERVER_WEB_PORT"
const ESCALATION_SWEEP_INTERVAL = "FFLOW_ESCALATION_SWEEP_INTERVAL"
const ACTION_RETRY_BASE_DELAY = "FFLOW_ACTION_RETRY_BASE_DELAY" //base backoff delay between action retries
const WEB_SESSION_EXPIRY_HOURS = "FFLOW_WEB_SESSION_EXPIRY_HOURS"
const NOTIFY_WEBHOOK_URL = "FFLOW_NOTIFY_WEBHOOK_URL" //when set notifications are POSTed here as JSON
const LDAP_URL = "FFLOW_LDAP_URL"                     //directory server for directory actions
const LDAP_BIND_DN = "FFLOW_LDAP_BIND_DN"
const LDAP_BIND_PASSWORD = "FFLOW_LDAP_BIND_PASSWORD"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == ESCALATION_SWEEP_INTERVAL {
		return "60s" // default to 60 seconds
	}
	if settingKey == ACTION_RETRY_BASE_DELAY {
		return "500ms"
	}
	if settingKey == SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == WEB_SESSION_EXPIRY_HOURS {
		return "1"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./formflow.db"
	}
	return ""
}
