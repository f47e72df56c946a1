package planner

// Templates is the catalogue of named looks layered over the base recipe
var Templates = []Template{
	{Name: "none", Title: "Standard", Description: "No template", Premium: false, Params: Params{}},
	{Name: "viral", Title: "Viral", Description: "Punchy look tuned for reach", Premium: false, Params: Params{Brightness: p(0.05), Contrast: p(1.15), Saturation: p(1.2), Noise: p(3), Sharpness: p(1.5)}},
	{Name: "aesthetic", Title: "Aesthetic", Description: "Soft aesthetic look", Premium: false, Params: Params{Brightness: p(0.08), Contrast: p(0.95), Saturation: p(0.85), Gamma: p(1.1), Blur: p(0.3)}},
	{Name: "dark", Title: "Dark", Description: "Dark moody look", Premium: false, Params: Params{Brightness: p(-0.15), Contrast: p(1.2), Saturation: p(0.8), Vignette: p(0.6)}},
	{Name: "bright", Title: "Bright", Description: "Bright sunny look", Premium: false, Params: Params{Brightness: p(0.12), Contrast: p(1.05), Saturation: p(1.1), Gamma: p(1.15)}},
	{Name: "cinema", Title: "Cinema", Description: "Cinematic with letterbox bars", Premium: false, Params: Params{Contrast: p(1.1), Saturation: p(0.9), Vignette: p(0.4), Letterbox: true}},
	{Name: "vintage", Title: "Vintage", Description: "Retro VHS look", Premium: false, Params: Params{Contrast: p(1.15), Saturation: p(0.7), Noise: p(15), Vignette: p(0.5), Blur: p(0.5)}},
	{Name: "noir", Title: "Noir", Description: "Black and white film noir", Premium: false, Params: Params{Contrast: p(1.3), Saturation: p(0), Vignette: p(0.6)}},
	{Name: "golden", Title: "Golden Hour", Description: "Warm golden-hour light", Premium: false, Params: Params{Brightness: p(0.08), Saturation: p(1.15), Gamma: p(1.1), Warmth: p(0.15)}},
	{Name: "glitch", Title: "Glitch", Description: "Interference and distortion", Premium: true, Params: Params{Contrast: p(1.2), Saturation: p(1.3), Noise: p(20), Shake: p(3)}},
	{Name: "neon", Title: "Neon", Description: "Neon glow", Premium: true, Params: Params{Brightness: p(-0.05), Contrast: p(1.25), Saturation: p(1.4), Glow: p(0.6)}},
	{Name: "dreamy", Title: "Dreamy", Description: "Dreamy soft focus", Premium: true, Params: Params{Brightness: p(0.1), Contrast: p(0.9), Saturation: p(0.9), Blur: p(0.8), Glow: p(0.4)}},
	{Name: "cyberpunk", Title: "Cyberpunk", Description: "Futuristic neon", Premium: true, Params: Params{Brightness: p(-0.1), Contrast: p(1.3), Saturation: p(1.5), Noise: p(8), Vignette: p(0.5)}},
	{Name: "velocity", Title: "Velocity", Description: "Fast dynamic cut", Premium: false, Params: Params{Contrast: p(1.15), Sharpness: p(1.3), Speed: p(1.15)}},
	{Name: "slowmo", Title: "Slow Motion", Description: "Slowed-down motion", Premium: false, Params: Params{Contrast: p(1.05), Saturation: p(1.05), Speed: p(0.7)}},
	{Name: "smooth", Title: "Smooth", Description: "Smooth and soft", Premium: false, Params: Params{Brightness: p(0.03), Contrast: p(0.95), Blur: p(0.4)}},
	{Name: "moody", Title: "Moody", Description: "Atmospheric muted tones", Premium: false, Params: Params{Brightness: p(-0.08), Contrast: p(1.1), Saturation: p(0.75), Vignette: p(0.5)}},
	{Name: "summer", Title: "Summer", Description: "Warm summer vibe", Premium: false, Params: Params{Brightness: p(0.1), Contrast: p(1.05), Saturation: p(1.2), Warmth: p(0.1)}},
	{Name: "winter", Title: "Winter", Description: "Cold winter tones", Premium: false, Params: Params{Brightness: p(0.05), Contrast: p(1.1), Saturation: p(0.85), Warmth: p(-0.1)}},
	{Name: "hype", Title: "Hype", Description: "High-energy hype", Premium: true, Params: Params{Contrast: p(1.25), Saturation: p(1.25), Noise: p(5), Sharpness: p(1.5), Speed: p(1.05)}},
	{Name: "chill", Title: "Chill", Description: "Relaxed calm vibe", Premium: false, Params: Params{Brightness: p(0.05), Contrast: p(0.95), Saturation: p(0.9), Blur: p(0.3)}},
	{Name: "anime", Title: "Anime", Description: "Anime-style vivid colour", Premium: true, Params: Params{Brightness: p(0.05), Contrast: p(1.2), Saturation: p(1.4), Sharpness: p(1.8)}},
	{Name: "horror", Title: "Horror", Description: "Creepy dark horror", Premium: true, Params: Params{Brightness: p(-0.2), Contrast: p(1.4), Saturation: p(0.5), Noise: p(12), Vignette: p(0.8)}},
	{Name: "y2k", Title: "Y2K", Description: "Early-2000s retro", Premium: true, Params: Params{Brightness: p(0.08), Contrast: p(1.15), Saturation: p(1.3), Noise: p(8), Blur: p(0.4)}},
	{Name: "lomo", Title: "Lomo", Description: "Lomography look", Premium: false, Params: Params{Contrast: p(1.3), Saturation: p(1.25), Warmth: p(0.08), Vignette: p(0.7)}},
	{Name: "film_grain", Title: "Film Grain", Description: "Analogue film grain", Premium: false, Params: Params{Brightness: p(0.02), Contrast: p(1.1), Saturation: p(0.9), Noise: p(18)}},
	{Name: "pop_art", Title: "Pop Art", Description: "Vivid pop art", Premium: true, Params: Params{Brightness: p(0.1), Contrast: p(1.4), Saturation: p(1.6), Sharpness: p(1.6)}},
	{Name: "polaroid", Title: "Polaroid", Description: "Classic instant photo", Premium: false, Params: Params{Brightness: p(0.06), Contrast: p(1.05), Saturation: p(0.85), Warmth: p(0.12), Vignette: p(0.3)}},
	{Name: "travel", Title: "Travel", Description: "Vivid travel look", Premium: false, Params: Params{Brightness: p(0.08), Contrast: p(1.1), Saturation: p(1.15), Sharpness: p(1.3)}},
	{Name: "food", Title: "Food", Description: "Appetising food look", Premium: false, Params: Params{Brightness: p(0.06), Contrast: p(1.08), Saturation: p(1.2), Warmth: p(0.08), Sharpness: p(1.4)}},
	{Name: "sunset", Title: "Sunset", Description: "Romantic sunset", Premium: false, Params: Params{Brightness: p(0.05), Contrast: p(1.1), Saturation: p(1.2), Warmth: p(0.2), Vignette: p(0.3)}},
	{Name: "underwater", Title: "Underwater", Description: "Cool underwater blue", Premium: false, Params: Params{Brightness: p(-0.03), Contrast: p(1.05), Saturation: p(1.1), Warmth: p(-0.15)}},
	{Name: "vaporwave", Title: "Vaporwave", Description: "Retro-futurist vaporwave", Premium: true, Params: Params{Brightness: p(0.05), Contrast: p(1.2), Saturation: p(1.4), Warmth: p(-0.05), Noise: p(6)}},
	{Name: "fashion", Title: "Fashion", Description: "Stylish fashion look", Premium: false, Params: Params{Brightness: p(0.03), Contrast: p(1.15), Saturation: p(1.05), Sharpness: p(1.5)}},
	{Name: "night_city", Title: "Night City", Description: "Night city vibe", Premium: true, Params: Params{Brightness: p(-0.1), Contrast: p(1.25), Saturation: p(1.2), Noise: p(5), Vignette: p(0.4)}},
	{Name: "sport", Title: "Sport", Description: "Dynamic sport look", Premium: false, Params: Params{Contrast: p(1.2), Saturation: p(1.15), Sharpness: p(1.6), Speed: p(1.1)}},
	{Name: "selfie", Title: "Selfie", Description: "Flattering selfie look", Premium: false, Params: Params{Brightness: p(0.1), Contrast: p(1.05), Saturation: p(1.08), Blur: p(0.2)}},
	{Name: "gaming", Title: "Gaming", Description: "RGB gaming look", Premium: true, Params: Params{Brightness: p(-0.05), Contrast: p(1.3), Saturation: p(1.35), Noise: p(4), Sharpness: p(1.4)}},
	{Name: "minimal", Title: "Minimal", Description: "Clean minimal look", Premium: false, Params: Params{Brightness: p(0.08), Contrast: p(1.05), Saturation: p(0.7)}},
	{Name: "grunge", Title: "Grunge", Description: "Dirty rock grunge", Premium: true, Params: Params{Brightness: p(-0.08), Contrast: p(1.25), Saturation: p(0.75), Noise: p(15), Vignette: p(0.6)}},
	{Name: "promo", Title: "Promo", Description: "Bright promo look", Premium: false, Params: Params{Brightness: p(0.1), Contrast: p(1.2), Saturation: p(1.25), Sharpness: p(1.5)}},
}
