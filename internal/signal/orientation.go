package signal

import "math"

// 姿态取值
const (
	OrientationNeutral  = "NEUTRAL"
	OrientationInverted = "INVERTED"
	OrientationLeft     = "LEFT"
	OrientationRight    = "RIGHT"
	OrientationForward  = "FORWARD"
	OrientationBack     = "BACK"
	OrientationUnknown  = "UNKNOWN"
)

const gravity = 9.81 // m/s²

// DetectOrientation 由加速度三轴推断设备姿态
// 置信度按模长偏离 1g 的程度衰减：100 − |mag − 9.81| × 10，夹到 [0,100]
// 主导轴超阈值（z ±7，x/y ±5）给出方向，否则回落 NEUTRAL
func DetectOrientation(ax, ay, az float64) (string, float64) {
	mag := math.Sqrt(ax*ax + ay*ay + az*az)

	confidence := 100.0 - math.Abs(mag-gravity)*10.0
	if confidence > 100.0 {
		confidence = 100.0
	}
	if confidence < 0.0 {
		confidence = 0.0
	}

	absX, absY, absZ := math.Abs(ax), math.Abs(ay), math.Abs(az)

	if absZ > absX && absZ > absY {
		if az > 7.0 {
			return OrientationNeutral, confidence
		}
		if az < -7.0 {
			return OrientationInverted, confidence
		}
	}

	if absX > absY && absX > absZ {
		if ax > 5.0 {
			return OrientationRight, confidence
		}
		if ax < -5.0 {
			return OrientationLeft, confidence
		}
	}

	if absY > absX && absY > absZ {
		if ay > 5.0 {
			return OrientationBack, confidence
		}
		if ay < -5.0 {
			return OrientationForward, confidence
		}
	}

	return OrientationNeutral, confidence
}

// Magnitude 加速度模长
func Magnitude(ax, ay, az float64) float64 {
	return math.Sqrt(ax*ax + ay*ay + az*az)
}
