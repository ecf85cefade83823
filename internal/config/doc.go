// Package config описывает настройки бинарников Orbit.
package config
